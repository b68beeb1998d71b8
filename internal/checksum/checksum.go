// Package checksum computes file checksums in the same form S3 reports as an
// object's ETag, so a local value can be compared directly with the remote one.
//
// A file that fits in one part gets the hex MD5 of its content. A larger file
// is split into parts of PartSize bytes; the checksum is the hex MD5 of the
// concatenated raw per-part digests followed by "-<number of parts>".
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// DefaultPartSize is the smallest part size S3 accepts for multipart uploads.
const DefaultPartSize = 5 * 1024 * 1024

// Checksum is an ETag-compatible checksum.
type Checksum string

func (c Checksum) String() string { return string(c) }

// IsMultipart reports whether the checksum is in the composite form.
func (c Checksum) IsMultipart() bool {
	return strings.Contains(string(c), "-")
}

// IsMultipart reports whether a file of the given size is transferred in parts.
func IsMultipart(size, partSize int64) bool {
	return size > partSize
}

// File computes the checksum of the file at path.
func File(path string, partSize int64) (Checksum, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	return Reader(f, info.Size(), partSize)
}

// Reader computes the checksum of size bytes read sequentially from r.
func Reader(r io.Reader, size, partSize int64) (Checksum, error) {
	if partSize <= 0 {
		return "", fmt.Errorf("part size must be positive, got %d", partSize)
	}

	if !IsMultipart(size, partSize) {
		h := md5.New()
		if _, err := io.Copy(h, r); err != nil {
			return "", fmt.Errorf("failed to read content: %w", err)
		}
		return Checksum(hex.EncodeToString(h.Sum(nil))), nil
	}

	p := NewParts()
	buf := make([]byte, partSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			p.Add(buf[:n])
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read part %d: %w", p.Count()+1, err)
		}
	}
	return p.Sum(), nil
}

// Parts accumulates per-part digests of a multipart transfer.
type Parts struct {
	digests hash.Hash
	count   int
}

func NewParts() *Parts {
	return &Parts{digests: md5.New()}
}

// Add records the digest of one part.
func (p *Parts) Add(part []byte) {
	sum := md5.Sum(part)
	p.digests.Write(sum[:])
	p.count++
}

func (p *Parts) Count() int { return p.count }

// Sum returns the composite checksum of the parts added so far.
func (p *Parts) Sum() Checksum {
	return Checksum(fmt.Sprintf("%s-%d", hex.EncodeToString(p.digests.Sum(nil)), p.count))
}
