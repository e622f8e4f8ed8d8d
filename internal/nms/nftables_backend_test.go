package nms

import "testing"

func TestIfnameDataPadsToIFNAMSIZ(t *testing.T) {
	got := ifnameData("eth0")
	if len(got) != 16 {
		t.Fatalf("ifnameData length = %d, want 16", len(got))
	}
	if string(got[:4]) != "eth0" {
		t.Fatalf("ifnameData prefix = %q, want %q", got[:4], "eth0")
	}
	for _, b := range got[4:] {
		if b != 0 {
			t.Fatalf("ifnameData padding not zero: %v", got)
		}
	}
}

func TestStartTetheringRejectsEmptyRanges(t *testing.T) {
	n := &NftablesNMS{}
	if err := n.StartTethering(nil, nil); err == nil {
		t.Fatal("expected error for empty dhcp ranges")
	}
}
