package owneraddr

import "testing"

func TestEncode(t *testing.T) {
	got := Encode("Jane Doe", "U123456")
	want := "SmFuZSBEb2U6OlUxMjM0NTY="
	if got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	name, slackID := "Jane Doe", "U123456"
	address := Encode(name, slackID)

	gotName, gotSlackID, err := Decode(address)
	if err != nil {
		t.Fatalf("Decode() returned error: %v", err)
	}
	if gotName != name || gotSlackID != slackID {
		t.Errorf("Decode() = (%q, %q), want (%q, %q)", gotName, gotSlackID, name, slackID)
	}
}

func TestDecodeEmpty(t *testing.T) {
	name, slackID, err := Decode("")
	if err != nil {
		t.Fatalf("Decode(\"\") returned error: %v", err)
	}
	if name != "" || slackID != "" {
		t.Errorf("Decode(\"\") = (%q, %q), want (\"\", \"\")", name, slackID)
	}
}

func TestDecodeInvalid(t *testing.T) {
	for _, in := range []string{"not-base64!!", "anVzdC1hLW5hbWU="} {
		if _, _, err := Decode(in); err == nil {
			t.Errorf("Decode(%q) expected error, got nil", in)
		}
	}
}
