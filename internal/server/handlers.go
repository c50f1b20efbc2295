package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/scigolib/h5catalog"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 300
)

type resource struct {
	ID         string            `json:"id"`
	Attributes attributes        `json:"attributes"`
	Links      map[string]string `json:"links"`
	Meta       any               `json:"meta"`
}

type attributes struct {
	Ancestors       []string                  `json:"ancestors"`
	StructureFamily h5catalog.StructureFamily `json:"structure_family"`
	Specs           []string                  `json:"specs"`
	Metadata        map[string]any            `json:"metadata"`
	Structure       any                       `json:"structure"`
	Sorting         any                       `json:"sorting"`
	DataSources     any                       `json:"data_sources"`
}

type containerStructure struct {
	Contents any `json:"contents"`
	Count    int `json:"count"`
}

// segments splits a request path into its non-empty parts.
func segments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/api/v1"
}

func escapePath(parts []string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.Join(escaped, "/")
}

func (s *Server) resource(r *http.Request, parts []string, n h5catalog.Node) resource {
	res := resource{
		Attributes: attributes{
			Ancestors:       []string{},
			StructureFamily: n.StructureFamily(),
			Specs:           []string{},
			Metadata:        map[string]any{},
		},
	}
	if len(parts) > 0 {
		res.ID = parts[len(parts)-1]
		res.Attributes.Ancestors = append(res.Attributes.Ancestors, parts[:len(parts)-1]...)
	}
	for k, v := range n.Metadata() {
		res.Attributes.Metadata[k] = clean(v)
	}

	base, p := baseURL(r), escapePath(parts)
	res.Links = map[string]string{"self": base + "/metadata/" + p}
	switch node := n.(type) {
	case *h5catalog.Container:
		res.Attributes.Structure = containerStructure{Count: node.Len()}
		res.Links["search"] = base + "/search/" + p
	case *h5catalog.Array:
		st := node.Structure()
		res.Attributes.Structure = st
		res.Links["full"] = base + "/array/full/" + p
		placeholders := make([]string, len(st.Shape))
		for i := range placeholders {
			placeholders[i] = "{" + strconv.Itoa(i) + "}"
		}
		res.Links["block"] = base + "/array/block/" + p + "?block=" + strings.Join(placeholders, ",")
	}
	return res
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, h5catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, h5catalog.ErrNotArray):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", mediaJSON)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	media := negotiate(r, mediaJSON, mediaCBOR)
	if media == "" {
		writeError(w, http.StatusNotAcceptable, "supported media types: application/json, application/cbor")
		return
	}
	doc := map[string]any{
		"api_version":     0,
		"library_version": s.cfg.Version,
		"formats": map[string][]string{
			"array":     {mediaJSON, mediaCBOR, mediaOctets},
			"container": {mediaJSON, mediaCBOR},
		},
		"authentication": map[string]any{"required": !s.cfg.AllowAnonymous},
		"links":          map[string]string{"self": baseURL(r) + "/"},
		"meta":           map[string]any{"root_path": "/api"},
	}
	s.send(w, r, media, doc, false)
}

func (s *Server) send(w http.ResponseWriter, r *http.Request, media string, v any, withETag bool) {
	body, err := marshal(media, v)
	if err != nil {
		s.fail(w, r, fmt.Errorf("encoding response: %w", err))
		return
	}
	reply(w, r, http.StatusOK, media, body, withETag)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	media := negotiate(r, mediaJSON, mediaCBOR)
	if media == "" {
		writeError(w, http.StatusNotAcceptable, "supported media types: application/json, application/cbor")
		return
	}
	parts := segments(r.PathValue("path"))
	n, err := s.lookup(strings.Join(parts, "/"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.send(w, r, media, map[string]any{"data": s.resource(r, parts, n)}, false)
}

// pageParam reads a non-negative page[...] query parameter.
func pageParam(q url.Values, name string, def int) (int, error) {
	v := q.Get("page[" + name + "]")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("page[%s] must be a non-negative integer", name)
	}
	return n, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	media := negotiate(r, mediaJSON, mediaCBOR)
	if media == "" {
		writeError(w, http.StatusNotAcceptable, "supported media types: application/json, application/cbor")
		return
	}
	q := r.URL.Query()
	offset, err := pageParam(q, "offset", 0)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	limit, err := pageParam(q, "limit", defaultPageLimit)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.search(w, r, media, offset, min(limit, maxPageLimit))
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, media string, offset, limit int) {
	parts := segments(r.PathValue("path"))
	n, err := s.lookup(strings.Join(parts, "/"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, ok := n.(*h5catalog.Container)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "/"+strings.Join(parts, "/")+" is not a container")
		return
	}

	data := []resource{}
	if limit > 0 {
		items, err := c.Items(offset, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		for _, it := range items {
			data = append(data, s.resource(r, append(parts[:len(parts):len(parts)], it.Key), it.Node))
		}
	}

	count := c.Len()
	self := baseURL(r) + "/search/" + escapePath(parts)
	page := func(off int) string {
		return fmt.Sprintf("%s?page[offset]=%d&page[limit]=%d", self, off, limit)
	}
	links := map[string]any{
		"self":  page(offset),
		"first": page(0),
		"last":  nil,
		"next":  nil,
		"prev":  nil,
	}
	if limit > 0 {
		links["last"] = page(max(0, (count-1)/limit*limit))
		if offset+limit < count {
			links["next"] = page(offset + limit)
		}
		if offset > 0 {
			links["prev"] = page(max(0, offset-limit))
		}
	}
	s.send(w, r, media, map[string]any{
		"data":  data,
		"links": links,
		"meta":  map[string]any{"count": count},
	}, false)
}

func (s *Server) array(w http.ResponseWriter, r *http.Request) (*h5catalog.Array, string, bool) {
	media := negotiate(r, mediaJSON, mediaOctets, mediaCBOR)
	if media == "" {
		writeError(w, http.StatusNotAcceptable, "supported media types: application/json, application/octet-stream, application/cbor")
		return nil, "", false
	}
	n, err := s.lookup(r.PathValue("path"))
	if err != nil {
		s.fail(w, r, err)
		return nil, "", false
	}
	a, ok := n.(*h5catalog.Array)
	if !ok {
		s.fail(w, r, fmt.Errorf("%w: %s", h5catalog.ErrNotArray, n.Path()))
		return nil, "", false
	}
	return a, media, true
}

func (s *Server) handleArrayFull(w http.ResponseWriter, r *http.Request) {
	a, media, ok := s.array(w, r)
	if !ok {
		return
	}
	if media == mediaOctets {
		raw, err := a.ReadBytes()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		reply(w, r, http.StatusOK, media, raw, true)
		return
	}
	values, err := a.Read()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendValues(w, r, media, values, a.Structure().Shape)
}

func (s *Server) sendValues(w http.ResponseWriter, r *http.Request, media string, values any, shape []uint64) {
	nested, err := nest(values, shape)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.send(w, r, media, nested, true)
}

// parseBlock reads ?block=i,j. An empty value addresses a scalar.
func parseBlock(q url.Values) ([]uint64, error) {
	if !q.Has("block") {
		return nil, errors.New("block parameter is required")
	}
	v := q.Get("block")
	if v == "" {
		return []uint64{}, nil
	}
	fields := strings.Split(v, ",")
	out := make([]uint64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("block %q: coordinates must be non-negative integers", v)
		}
		out[i] = n
	}
	return out, nil
}

func (s *Server) handleArrayBlock(w http.ResponseWriter, r *http.Request) {
	block, err := parseBlock(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	a, media, ok := s.array(w, r)
	if !ok {
		return
	}
	shape, err := a.BlockShape(block...)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if media == mediaOctets {
		raw, err := a.ReadBlockBytes(block...)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		reply(w, r, http.StatusOK, media, raw, true)
		return
	}
	values, err := a.ReadBlock(block...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendValues(w, r, media, values, shape)
}
