package storage

import (
	"strings"
	"time"
)

// MaxTagValueLength is the longest value S3 accepts for an object tag.
const MaxTagValueLength = 256

const (
	tagTimeLayout       = "2006-01-02T15:04:05-07:00"
	tagTimeLayoutMicros = "2006-01-02T15:04:05.000000-07:00"
)

// ObjectKey derives the S3 object key for a local file path: drive-letter
// colons are dropped, backslashes become forward slashes, spaces become
// underscores, and one leading slash is removed before the prefix is added.
func ObjectKey(filePath, prefix string) string {
	key := strings.ReplaceAll(filePath, ":", "")
	key = strings.ReplaceAll(key, `\`, "/")
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.TrimPrefix(key, "/")
	return prefix + "/" + key
}

// TagValue makes a file path usable as an object tag value. Spaces are kept;
// only the trailing MaxTagValueLength characters survive.
func TagValue(filePath string) string {
	v := strings.ReplaceAll(filePath, ":", "")
	v = strings.ReplaceAll(v, `\`, "/")
	r := []rune(v)
	if len(r) > MaxTagValueLength {
		r = r[len(r)-MaxTagValueLength:]
	}
	return string(r)
}

// CloudPath is the s3:// URI recorded in the ledger.
func CloudPath(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// TagTime renders t in UTC with microsecond precision. The fraction has
// exactly six digits, or is left out when it is zero.
func TagTime(t time.Time) string {
	t = t.UTC().Truncate(time.Microsecond)
	if t.Nanosecond() == 0 {
		return t.Format(tagTimeLayout)
	}
	return t.Format(tagTimeLayoutMicros)
}
