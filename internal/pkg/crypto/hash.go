package crypto

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"
)

// EmptySHA256 is the hex SHA-256 of zero bytes.
const EmptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// HashWriter computes SHA-256 and MD5 of everything written to it.
// Downloads tee their body into one to check the result against the ETag.
type HashWriter struct {
	sha256 hash.Hash
	md5    hash.Hash
	size   int64
}

// NewHashWriter creates a new HashWriter.
func NewHashWriter() *HashWriter {
	return &HashWriter{
		sha256: sha256.New(),
		md5:    md5.New(),
	}
}

// Write implements io.Writer.
func (h *HashWriter) Write(p []byte) (int, error) {
	h.sha256.Write(p)
	h.md5.Write(p)
	h.size += int64(len(p))
	return len(p), nil
}

// SHA256 returns the hex-encoded SHA-256 hash.
func (h *HashWriter) SHA256() string {
	return hex.EncodeToString(h.sha256.Sum(nil))
}

// MD5 returns the hex-encoded MD5 hash.
func (h *HashWriter) MD5() string {
	return hex.EncodeToString(h.md5.Sum(nil))
}

// Size returns the total number of bytes written.
func (h *HashWriter) Size() int64 {
	return h.size
}

// MatchesETag reports whether the MD5 of the written bytes equals etag.
// Multipart ETags ("<hex>-<parts>") are not content hashes, so ok is false
// for them and the comparison is meaningless.
func (h *HashWriter) MatchesETag(etag string) (match, ok bool) {
	etag = strings.Trim(strings.TrimPrefix(etag, "W/"), `"`)
	if len(etag) != 32 || strings.Contains(etag, "-") {
		return false, false
	}
	return strings.EqualFold(etag, h.MD5()), true
}

// ComputeSHA256 computes the hex SHA-256 hash of a byte slice.
func ComputeSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeMD5 computes the hex MD5 hash of a byte slice.
func ComputeMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ContentMD5 returns the base64 MD5 digest used as the Content-MD5 header.
func ContentMD5(data []byte) string {
	sum := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}
