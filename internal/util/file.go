package util

import (
	"path/filepath"
	"strings"
)

// IsAllowedAudio 按扩展名判断是否为支持的录音格式
func IsAllowedAudio(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range AllowedAudioExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
