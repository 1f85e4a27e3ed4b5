package webhooks

import "testing"

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"type":"diagnostics.completed"}`)
	sig := SignHMAC("k", body)
	if !VerifyHMAC("k", body, sig) || !VerifyHMAC("k", body, "sha256="+sig) {
		t.Fatal("signature must verify")
	}
	if VerifyHMAC("other", body, sig) || VerifyHMAC("k", body, "zz") {
		t.Fatal("wrong secret or malformed signature must not verify")
	}
}
