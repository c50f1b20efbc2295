package server

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Media types.
const (
	mediaJSON   = "application/json"
	mediaCBOR   = "application/cbor"
	mediaOctets = "application/octet-stream"
)

// minCompressSize is the smallest body worth compressing.
const minCompressSize = 256

var (
	cborMode    cbor.EncMode
	zstdEncoder *zstd.Encoder
)

func init() {
	var err error
	cborMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("server: CBOR encoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("server: zstd encoder initialization failed: " + err.Error())
	}
}

// negotiate picks the offered type with the highest q-value in the Accept
// header. An exact entry takes precedence over "application/*", which takes
// precedence over "*/*", so q=0 on an exact type excludes it even under a
// wildcard. Ties go to the earlier Accept entry, then to the earlier offer.
// A missing header selects offered[0]. It returns "" when nothing
// acceptable is offered.
func negotiate(r *http.Request, offered ...string) string {
	accept := r.Header.Get("Accept")
	if strings.TrimSpace(accept) == "" {
		return offered[0]
	}
	type entry struct {
		media string
		q     float64
	}
	var entries []entry
	for _, part := range strings.Split(accept, ",") {
		media, params, _ := strings.Cut(part, ";")
		entries = append(entries, entry{strings.ToLower(strings.TrimSpace(media)), qvalue(params)})
	}

	best, bestQ, bestPos := "", 0.0, len(entries)
	for _, o := range offered {
		pos, rank := -1, 0
		for i, e := range entries {
			m := 0
			switch {
			case e.media == o:
				m = 3
			case e.media == "application/*" && strings.HasPrefix(o, "application/"):
				m = 2
			case e.media == "*/*":
				m = 1
			}
			if m > rank {
				pos, rank = i, m
			}
		}
		if pos < 0 {
			continue
		}
		q := entries[pos].q
		if q > bestQ || (q == bestQ && q > 0 && pos < bestPos) {
			best, bestQ, bestPos = o, q, pos
		}
	}
	return best
}

// qvalue returns the q parameter of a header entry, 1 when absent or
// malformed.
func qvalue(params string) float64 {
	for _, p := range strings.Split(params, ";") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(p), "q="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
				return f
			}
		}
	}
	return 1
}

// marshal encodes v as JSON or CBOR.
func marshal(media string, v any) ([]byte, error) {
	if media == mediaCBOR {
		return cborMode.Marshal(v)
	}
	return json.Marshal(v)
}

// encoding picks a content coding from Accept-Encoding.
func encoding(r *http.Request) string {
	var gz bool
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		coding, params, _ := strings.Cut(part, ";")
		if qvalue(params) == 0 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(coding)) {
		case "zstd":
			return "zstd"
		case "gzip":
			gz = true
		}
	}
	if gz {
		return "gzip"
	}
	return ""
}

func compress(coding string, body []byte) ([]byte, error) {
	switch coding {
	case "zstd":
		return zstdEncoder.EncodeAll(body, nil), nil
	case "gzip":
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return body, nil
}

// etag is a strong validator over the uncompressed body.
func etag(media string, body []byte) string {
	h := blake3.New()
	_, _ = h.Write([]byte(media))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(body)
	return `"` + hex.EncodeToString(h.Sum(nil)[:16]) + `"`
}

func matchesETag(r *http.Request, tag string) bool {
	for _, candidate := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		c := strings.TrimSpace(candidate)
		if c == "*" || strings.TrimPrefix(c, "W/") == tag {
			return true
		}
	}
	return false
}

// reply writes body with the negotiated content coding. When withETag is
// set, a matching If-None-Match gets 304 Not Modified.
func reply(w http.ResponseWriter, r *http.Request, status int, media string, body []byte, withETag bool) {
	h := w.Header()
	h.Set("Content-Type", media)
	h.Add("Vary", "Accept, Accept-Encoding")
	if withETag {
		tag := etag(media, body)
		h.Set("ETag", tag)
		if matchesETag(r, tag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	if coding := encoding(r); coding != "" && len(body) >= minCompressSize {
		compressed, err := compress(coding, body)
		if err == nil {
			body = compressed
			h.Set("Content-Encoding", coding)
		}
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

// writeError writes a {"detail": msg} JSON error.
func writeError(w http.ResponseWriter, status int, msg string) {
	body, _ := json.Marshal(map[string]string{"detail": msg})
	w.Header().Set("Content-Type", mediaJSON)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
