package tencent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	testSecretID  = "AKIDz8krbsJ5yKBZQpn74WFkmLPx3EXAMPLE"
	testSecretKey = "Gu5t9xGARNpq86cd98joQYCN3EXAMPLE"
	testPayload   = `{"Model":"hunyuan-lite","Messages":[{"Role":"user","Content":"hi"}],"Stream":false}`
	testSignature = "b50d609cf6cfee7d2fc22722590c5c34e61d1aaba8a0070af267198d537942f0"
)

var testTime = time.Unix(1700000000, 0)

func TestSigner_Authorization(t *testing.T) {
	s := Signer{SecretID: testSecretID, SecretKey: testSecretKey}

	got := s.Authorization("hunyuan.tencentcloudapi.com", []byte(testPayload), testTime)

	assert.Equal(t,
		"TC3-HMAC-SHA256 Credential="+testSecretID+"/2023-11-14/hunyuan/tc3_request, "+
			"SignedHeaders=content-type;host, Signature="+testSignature,
		got)
}

func TestSigner_UsesUTCDate(t *testing.T) {
	s := Signer{SecretID: "id", SecretKey: "key"}
	// 北京时间 2023-11-15 06:00 仍是 UTC 2023-11-14
	local := time.Date(2023, 11, 15, 6, 0, 0, 0, time.FixedZone("CST", 8*3600))

	assert.Contains(t, s.Authorization("h", nil, local), "/2023-11-14/hunyuan/tc3_request")
}

func TestSigner_Deterministic(t *testing.T) {
	s := Signer{SecretID: "id", SecretKey: "key"}

	a := s.Authorization("h", []byte("{}"), testTime)
	b := s.Authorization("h", []byte("{}"), testTime)
	c := s.Authorization("h", []byte("{ }"), testTime)
	d := s.Authorization("other", []byte("{}"), testTime)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "请求体参与签名")
	assert.NotEqual(t, a, d, "host 参与签名")
}
