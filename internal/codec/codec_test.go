package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"plain", "/tmp/file.txt", `'/tmp/file.txt'`},
		{"spaces", "/tmp/my file.txt", `'/tmp/my file.txt'`},
		{"single quote", "/tmp/it's.txt", `'/tmp/it'\''s.txt'`},
		{"two quotes", "a'b'c", `'a'\''b'\''c'`},
		{"shell metachars", "/tmp/$(rm -rf ~);`x`", "'/tmp/$(rm -rf ~);`x`'"},
		{"double quote", `/tmp/"q"`, `'/tmp/"q"'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Quote(tt.path); got != tt.want {
				t.Errorf("Quote(%q) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	if err := ValidatePath("/home/u/it's ok"); err != nil {
		t.Errorf("Expected valid path, got %v", err)
	}
	if err := ValidatePath(""); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("Expected ErrEmptyPath, got %v", err)
	}
	for _, p := range []string{"a\nb", "a\rb", "a\x00b"} {
		if err := ValidatePath(p); !errors.Is(err, ErrUnquotablePath) {
			t.Errorf("ValidatePath(%q): expected ErrUnquotablePath, got %v", p, err)
		}
	}
}

func TestDownloadChunkCommand(t *testing.T) {
	got := DownloadChunkCommand("/data/it's.bin", 65536, 2)
	want := `dd if='/data/it'\''s.bin' bs=65536 skip=2 count=1 status=none | base64 -w 0`
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestBlockIndex(t *testing.T) {
	tests := []struct {
		position int64
		want     int64
	}{
		{0, 0},
		{65535, 0},
		{65536, 1},
		{131072, 2},
		{150000, 2},
	}
	for _, tt := range tests {
		if got := BlockIndex(tt.position, 65536); got != tt.want {
			t.Errorf("BlockIndex(%d) = %d, want %d", tt.position, got, tt.want)
		}
	}
}

func TestDecodeChunk(t *testing.T) {
	data, err := DecodeChunk("aGVs\nbG8g\r\nd29y\nbGQ=\n")
	if err != nil {
		t.Fatalf("DecodeChunk failed: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("Expected 'hello world', got %q", data)
	}

	empty, err := DecodeChunk("  \n")
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty chunk for blank response, got %q, %v", empty, err)
	}

	if _, err := DecodeChunk("not base64!!"); !errors.Is(err, ErrMalformedChunk) {
		t.Errorf("Expected ErrMalformedChunk, got %v", err)
	}
}

func TestTruncateCommand(t *testing.T) {
	if got := TruncateCommand("/tmp/o'k"); got != `> '/tmp/o'\''k'` {
		t.Errorf("Unexpected truncate command: %s", got)
	}
}

func TestAppendChunkCommand(t *testing.T) {
	got := AppendChunkCommand("/tmp/out", []byte{0x00, 0xff, 'a'})
	want := `echo "AP9h" | base64 -d >> '/tmp/out'`
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}

	// A full upload buffer must encode on one line.
	big := AppendChunkCommand("/x", bytes.Repeat([]byte{1}, 16*1024))
	if bytes.ContainsAny([]byte(big), "\n\r") {
		t.Error("Append command must not contain line breaks")
	}
}
