package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize 去首尾空白、转小写、合并连续空白。
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Fingerprint 归一化查询的 sha256 十六进制摘要，作为缓存键。
func Fingerprint(query string) string {
	sum := sha256.Sum256([]byte(Normalize(query)))
	return hex.EncodeToString(sum[:])
}
