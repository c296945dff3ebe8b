package tencent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// TC3-HMAC-SHA256 签名
// ═══════════════════════════════════════════════════════════════════════════

const (
	algorithm     = "TC3-HMAC-SHA256"
	service       = "hunyuan"
	signedHeaders = "content-type;host"
)

// Signer 腾讯云 API 3.0 签名器
//
// 签名过程：
//  1. 规范请求：POST / 空查询串 content-type 与 host 两个签名头 + 负载 SHA256
//  2. 待签字符串：算法、时间戳、凭证范围（{date}/hunyuan/tc3_request）、规范请求 SHA256
//  3. 派生密钥：HMAC("TC3"+SecretKey, date) → service → "tc3_request"
//  4. 签名：hex(HMAC(派生密钥, 待签字符串))
//
// date 是时间戳对应的 UTC 日期。
type Signer struct {
	SecretID  string
	SecretKey string
}

// Authorization 计算 Authorization 请求头
func (s Signer) Authorization(host string, payload []byte, ts time.Time) string {
	date := ts.UTC().Format("2006-01-02")
	scope := date + "/" + service + "/tc3_request"

	canonical := "POST\n/\n\n" +
		"content-type:application/json\nhost:" + host + "\n\n" +
		signedHeaders + "\n" +
		sha256Hex(payload)

	stringToSign := algorithm + "\n" +
		strconv.FormatInt(ts.Unix(), 10) + "\n" +
		scope + "\n" +
		sha256Hex([]byte(canonical))

	kDate := hmacSHA256([]byte("TC3"+s.SecretKey), date)
	kService := hmacSHA256(kDate, service)
	kSigning := hmacSHA256(kService, "tc3_request")
	signature := hex.EncodeToString(hmacSHA256(kSigning, stringToSign))

	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, s.SecretID, scope, signedHeaders, signature)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}
