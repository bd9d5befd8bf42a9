// Package codec maps binary chunks to the shell commands that move them.
//
// Downloads read one dd block per command and receive it base64-encoded on
// stdout. Uploads empty the destination once per attempt and then append
// base64-decoded chunks to it. The command text must stay byte-for-byte
// compatible with a plain POSIX shell that has dd and base64 available.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyPath is returned for a remote path with no characters.
	ErrEmptyPath = errors.New("remote path is empty")

	// ErrUnquotablePath is returned for paths containing NUL or line breaks.
	// The remote side is line-oriented, so those cannot be sent safely.
	ErrUnquotablePath = errors.New("remote path contains NUL or line break")

	// ErrMalformedChunk is returned when a download response is not base64.
	ErrMalformedChunk = errors.New("malformed chunk response")
)

// ValidatePath checks that a remote path can be carried by Quote.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsAny(path, "\x00\n\r") {
		return ErrUnquotablePath
	}
	return nil
}

// Quote wraps path in single quotes, escaping embedded quotes as '\''.
func Quote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// DownloadChunkCommand reads block blockIndex of size blockSize and emits it
// as unwrapped base64.
func DownloadChunkCommand(path string, blockSize int, blockIndex int64) string {
	return fmt.Sprintf("dd if=%s bs=%d skip=%d count=1 status=none | base64 -w 0",
		Quote(path), blockSize, blockIndex)
}

// BlockIndex returns the dd block that starts at position.
func BlockIndex(position int64, blockSize int) int64 {
	return position / int64(blockSize)
}

// DecodeChunk turns a download response back into bytes. Line breaks and
// surrounding whitespace are ignored so wrapped base64 output still decodes.
// An empty response is an empty chunk, which callers treat as end of file.
func DecodeChunk(response string) ([]byte, error) {
	clean := strings.NewReplacer("\n", "", "\r", "").Replace(response)
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	return data, nil
}

// TruncateCommand creates or empties the remote file.
func TruncateCommand(path string) string {
	return "> " + Quote(path)
}

// AppendChunkCommand decodes data remotely and appends it to path.
func AppendChunkCommand(path string, data []byte) string {
	return fmt.Sprintf(`echo "%s" | base64 -d >> %s`,
		base64.StdEncoding.EncodeToString(data), Quote(path))
}
