package blobs

import (
	"errors"
	"testing"
)

func TestHydrateBlobURL(t *testing.T) {
	const cid = "bafkreifzjut3te2nhyekklss27nh3k72ysco7y32koao5eei66wof36n5e"
	base := "https://pds.courier.test/xrpc/com.atproto.sync.getBlob?did=did%3Aplc%3Aauthor&cid=" + cid

	tests := []struct {
		name   string
		pdsURL string
		did    string
		cid    string
		want   string
	}{
		{name: "attachment url", pdsURL: "https://pds.courier.test", did: "did:plc:author", cid: cid, want: base},
		{name: "host with trailing slash", pdsURL: "https://pds.courier.test/", did: "did:plc:author", cid: cid, want: base},
		{
			name:   "did:web author",
			pdsURL: "https://pds.courier.test",
			did:    "did:web:team.courier.test",
			cid:    cid,
			want:   "https://pds.courier.test/xrpc/com.atproto.sync.getBlob?did=did%3Aweb%3Ateam.courier.test&cid=" + cid,
		},
		{name: "no host", did: "did:plc:author", cid: cid},
		{name: "no author", pdsURL: "https://pds.courier.test", cid: cid},
		{name: "upload without cid", pdsURL: "https://pds.courier.test", did: "did:plc:author"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HydrateBlobURL(tt.pdsURL, tt.did, tt.cid); got != tt.want {
				t.Errorf("HydrateBlobURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBlobRef(t *testing.T) {
	ref := NewBlobRef("bafkreiabc", "image/png", 512)
	if ref.CID() != "bafkreiabc" {
		t.Errorf("CID() = %q, want %q", ref.CID(), "bafkreiabc")
	}
	if err := ref.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}

	tests := []struct {
		name string
		ref  *BlobRef
	}{
		{name: "nil", ref: nil},
		{name: "missing type", ref: &BlobRef{Ref: map[string]string{"$link": "c"}, MimeType: "image/png", Size: 1}},
		{name: "missing cid", ref: &BlobRef{Type: "blob", MimeType: "image/png", Size: 1}},
		{name: "missing mime", ref: &BlobRef{Type: "blob", Ref: map[string]string{"$link": "c"}, Size: 1}},
		{name: "zero size", ref: &BlobRef{Type: "blob", Ref: map[string]string{"$link": "c"}, MimeType: "image/png"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.ref.Validate(); err == nil {
				t.Error("Validate() expected error, got nil")
			}
		})
	}
}

func TestNormalizeMimeType(t *testing.T) {
	tests := map[string]string{
		"image/jpg":                 "image/jpeg",
		"IMAGE/JPEG":                "image/jpeg",
		"image/png; charset=binary": "image/png",
		" video/mp4 ":               "video/mp4",
		"":                          "",
	}
	for in, want := range tests {
		if got := NormalizeMimeType(in); got != want {
			t.Errorf("NormalizeMimeType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveMimeType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	if got := ResolveMimeType("image/jpg", png); got != "image/jpeg" {
		t.Errorf("declared type should win, got %q", got)
	}
	if got := ResolveMimeType("", png); got != "image/png" {
		t.Errorf("sniffed type = %q, want image/png", got)
	}
	if got := ResolveMimeType("application/octet-stream", png); got != "image/png" {
		t.Errorf("generic type should be sniffed, got %q", got)
	}
}

func TestValidateSize(t *testing.T) {
	if err := ValidateSize(1); err != nil {
		t.Errorf("ValidateSize(1) unexpected error: %v", err)
	}
	if err := ValidateSize(0); !errors.Is(err, ErrEmptyBlob) {
		t.Errorf("ValidateSize(0) = %v, want ErrEmptyBlob", err)
	}
	if err := ValidateSize(MaxBlobSize + 1); !errors.Is(err, ErrBlobTooLarge) {
		t.Errorf("ValidateSize(max+1) = %v, want ErrBlobTooLarge", err)
	}
}
