// Package vaulttest provides an in-memory fake of the secret-storage
// server's HTTP API for tests: seal and init, mount management, token,
// AppRole and username/password logins, KV version 1 and 2 engines, and a
// per-token cubbyhole.
package vaulttest

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// RootToken is the token accepted by a server created without options
const RootToken = "s.root"

// Server is a fake secret-storage server
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	initialized bool
	sealed      bool
	shard       string
	tokens      map[string]bool
	appRoles    map[string]appRole
	users       map[string]map[string]user
	mounts      map[string]*mount
	cubby       map[string]map[string]map[string]interface{}
	denyMounts  bool
	requests    []string
	initCounter int
}

type appRole struct {
	secretID string
	token    string
}

type user struct {
	password string
	token    string
}

type mount struct {
	engine  string
	version string
	kv1     map[string]map[string]interface{}
	kv2     map[string]*kv2Entry
}

type kv2Entry struct {
	versions []*kv2Version
}

type kv2Version struct {
	data      map[string]interface{}
	created   time.Time
	deleted   bool
	destroyed bool
}

func (e *kv2Entry) latest() *kv2Version {
	if len(e.versions) == 0 {
		return nil
	}
	return e.versions[len(e.versions)-1]
}

// Option configures a Server
type Option func(*Server)

// Uninitialized starts the server before first-time initialization
func Uninitialized() Option {
	return func(s *Server) {
		s.initialized = false
		s.sealed = true
		s.tokens = map[string]bool{}
	}
}

// Sealed starts the server sealed; shard unseals it
func Sealed(shard string) Option {
	return func(s *Server) {
		s.sealed = true
		s.shard = shard
	}
}

// WithToken adds a valid token
func WithToken(token string) Option {
	return func(s *Server) { s.tokens[token] = true }
}

// WithMount adds a mount. engine is "kv" or "cubbyhole"; version is "1" or
// "2" for kv.
func WithMount(name, engine, version string) Option {
	return func(s *Server) { s.addMount(name, engine, version) }
}

// WithAppRole accepts roleID/secretID and issues token
func WithAppRole(roleID, secretID, token string) Option {
	return func(s *Server) { s.appRoles[roleID] = appRole{secretID: secretID, token: token} }
}

// WithUser accepts username/password on the login mount (e.g. "userpass"
// or "ldap") and issues token.
func WithUser(loginMount, username, password, token string) Option {
	return func(s *Server) {
		if s.users[loginMount] == nil {
			s.users[loginMount] = map[string]user{}
		}
		s.users[loginMount][username] = user{password: password, token: token}
	}
}

// DenyMountListing makes sys/mounts listing return 403, as for a
// least-privilege token.
func DenyMountListing() Option {
	return func(s *Server) { s.denyMounts = true }
}

// New starts an initialized, unsealed server that accepts RootToken and has
// a KV2 mount "secret" and the built-in "cubbyhole".
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		initialized: true,
		tokens:      map[string]bool{RootToken: true},
		appRoles:    map[string]appRole{},
		users:       map[string]map[string]user{},
		mounts:      map[string]*mount{},
		cubby:       map[string]map[string]map[string]interface{}{},
	}
	s.addMount("secret", "kv", "2")
	s.addMount("cubbyhole", "cubbyhole", "")
	for _, opt := range opts {
		opt(s)
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) addMount(name, engine, version string) {
	s.mounts[strings.Trim(name, "/")] = &mount{
		engine:  engine,
		version: version,
		kv1:     map[string]map[string]interface{}{},
		kv2:     map[string]*kv2Entry{},
	}
}

// Requests returns every request seen so far as "METHOD /v1/path[?query]"
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// CountRequests counts requests starting with prefix
func (s *Server) CountRequests(prefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

// Sealed reports whether the server is sealed
func (s *Server) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// HasMount reports whether a mount exists
func (s *Server) HasMount(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.mounts[strings.Trim(name, "/")]
	return ok
}

// Seed stores data at path on a KV mount without going through the API
func (s *Server) Seed(mountName, path string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mounts[mountName]
	path = strings.Trim(path, "/")
	if m.version == "2" {
		e := m.kv2[path]
		if e == nil {
			e = &kv2Entry{}
			m.kv2[path] = e
		}
		e.versions = append(e.versions, &kv2Version{data: copyMap(data), created: time.Now().UTC()})
		return
	}
	m.kv1[path] = copyMap(data)
}

// Versions returns how many versions a KV2 path holds, 0 if purged
func (s *Server) Versions(mountName, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.mounts[mountName].kv2[strings.Trim(path, "/")]
	if e == nil {
		return 0
	}
	return len(e.versions)
}

// Stored returns the live data at path on any KV mount, nil if absent
func (s *Server) Stored(mountName, path string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mounts[mountName]
	path = strings.Trim(path, "/")
	if m.version == "2" {
		e := m.kv2[path]
		if e == nil || e.latest() == nil || e.latest().deleted || e.latest().destroyed {
			return nil
		}
		return copyMap(e.latest().data)
	}
	return copyMap(m.kv1[path])
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := r.Method + " " + r.URL.Path
	if r.URL.RawQuery != "" {
		entry += "?" + r.URL.RawQuery
	}
	s.requests = append(s.requests, entry)

	if !strings.HasPrefix(r.URL.Path, "/v1/") {
		writeErrors(w, http.StatusNotFound)
		return
	}
	p := strings.TrimPrefix(r.URL.Path, "/v1/")

	switch p {
	case "sys/seal-status":
		s.writeSealStatus(w)
		return
	case "sys/init":
		s.handleInit(w, r)
		return
	case "sys/unseal":
		s.handleUnseal(w, r)
		return
	}

	if s.sealed {
		writeErrors(w, http.StatusServiceUnavailable, "Vault is sealed")
		return
	}

	if strings.HasPrefix(p, "auth/") && strings.Contains(p, "/login") {
		s.handleLogin(w, r, p)
		return
	}

	token := r.Header.Get("X-Vault-Token")
	if !s.tokens[token] {
		writeErrors(w, http.StatusForbidden, "permission denied")
		return
	}

	switch {
	case p == "auth/token/lookup-self":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{"id": token, "policies": []string{"default"}},
		})
	case p == "sys/mounts":
		s.handleListMounts(w)
	case strings.HasPrefix(p, "sys/mounts/"):
		s.handleEnableMount(w, r, strings.TrimPrefix(p, "sys/mounts/"))
	default:
		s.handleSecret(w, r, p, token)
	}
}

func (s *Server) writeSealStatus(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"type":         "shamir",
		"initialized":  s.initialized,
		"sealed":       s.sealed,
		"t":            1,
		"n":            1,
		"progress":     0,
		"nonce":        "",
		"version":      "1.15.0",
		"migration":    false,
		"storage_type": "inmem",
	})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]interface{}{"initialized": s.initialized})
		return
	}
	if s.initialized {
		writeErrors(w, http.StatusBadRequest, "Vault is already initialized")
		return
	}

	s.initCounter++
	raw := []byte(fmt.Sprintf("unseal-shard-%d", s.initCounter))
	s.shard = base64.StdEncoding.EncodeToString(raw)
	root := fmt.Sprintf("s.init-root-%d", s.initCounter)
	s.tokens[root] = true
	s.initialized = true
	s.sealed = true

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys":        []string{hex.EncodeToString(raw)},
		"keys_base64": []string{s.shard},
		"root_token":  root,
	})
}

func (s *Server) handleUnseal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key   string `json:"key"`
		Reset bool   `json:"reset"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if !s.initialized {
		writeErrors(w, http.StatusBadRequest, "Vault is not initialized")
		return
	}
	if body.Key != "" && body.Key != s.shard {
		writeErrors(w, http.StatusBadRequest, "Unseal failed, invalid key")
		return
	}
	if body.Key == s.shard {
		s.sealed = false
	}
	s.writeSealStatus(w)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, p string) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	issued := ""
	switch {
	case p == "auth/approle/login":
		role, _ := body["role_id"].(string)
		secret, _ := body["secret_id"].(string)
		if ar, ok := s.appRoles[role]; ok && ar.secretID == secret {
			issued = ar.token
		}
	default:
		// auth/<mount>/login/<user>
		parts := strings.SplitN(strings.TrimPrefix(p, "auth/"), "/login/", 2)
		if len(parts) == 2 {
			password, _ := body["password"].(string)
			if u, ok := s.users[parts[0]][parts[1]]; ok && u.password == password {
				issued = u.token
			}
		}
	}

	if issued == "" {
		writeErrors(w, http.StatusBadRequest, "invalid credentials")
		return
	}
	s.tokens[issued] = true
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"auth": map[string]interface{}{
			"client_token":   issued,
			"policies":       []string{"default"},
			"lease_duration": 3600,
			"renewable":      true,
		},
	})
}

func (s *Server) handleListMounts(w http.ResponseWriter) {
	if s.denyMounts {
		writeErrors(w, http.StatusForbidden, "permission denied")
		return
	}

	data := map[string]interface{}{
		"sys/":      map[string]interface{}{"type": "system", "options": nil},
		"identity/": map[string]interface{}{"type": "identity", "options": nil},
	}
	for name, m := range s.mounts {
		var options map[string]interface{}
		if m.version != "" {
			options = map[string]interface{}{"version": m.version}
		}
		data[name+"/"] = map[string]interface{}{
			"type":        m.engine,
			"description": "",
			"options":     options,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": data})
}

func (s *Server) handleEnableMount(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		writeErrors(w, http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Type    string            `json:"type"`
		Options map[string]string `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrors(w, http.StatusBadRequest, err.Error())
		return
	}

	name = strings.Trim(name, "/")
	if _, exists := s.mounts[name]; exists {
		writeErrors(w, http.StatusBadRequest, fmt.Sprintf("path is already in use at %s/", name))
		return
	}

	switch body.Type {
	case "kv":
		version := body.Options["version"]
		if version == "" {
			version = "1"
		}
		s.addMount(name, "kv", version)
	case "kv-v2":
		s.addMount(name, "kv", "2")
	case "cubbyhole":
		writeErrors(w, http.StatusBadRequest, "cannot mount cubbyhole explicitly")
		return
	default:
		writeErrors(w, http.StatusBadRequest, fmt.Sprintf("plugin not found in the catalog: %s", body.Type))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolveMount splits p into the longest matching mount and the rest
func (s *Server) resolveMount(p string) (string, *mount, string) {
	best := ""
	for name := range s.mounts {
		if (p == name || strings.HasPrefix(p, name+"/")) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return "", nil, ""
	}
	return best, s.mounts[best], strings.Trim(strings.TrimPrefix(p, best), "/")
}

func (s *Server) handleSecret(w http.ResponseWriter, r *http.Request, p, token string) {
	_, m, rel := s.resolveMount(p)
	if m == nil {
		writeErrors(w, http.StatusNotFound, fmt.Sprintf("no handler for route %q", p))
		return
	}

	isList := r.Method == "LIST" || (r.Method == http.MethodGet && r.URL.Query().Get("list") == "true")

	switch {
	case m.engine == "cubbyhole":
		if s.cubby[token] == nil {
			s.cubby[token] = map[string]map[string]interface{}{}
		}
		s.handleFlat(w, r, s.cubby[token], rel, isList)
	case m.version == "2":
		s.handleKV2(w, r, m, rel, isList)
	default:
		s.handleFlat(w, r, m.kv1, rel, isList)
	}
}

func (s *Server) handleFlat(w http.ResponseWriter, r *http.Request, store map[string]map[string]interface{}, rel string, isList bool) {
	switch {
	case isList:
		keys := make([]string, 0, len(store))
		for k := range store {
			keys = append(keys, k)
		}
		writeList(w, children(keys, rel))
	case r.Method == http.MethodGet:
		data, ok := store[rel]
		if !ok || rel == "" {
			writeErrors(w, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": data, "lease_duration": 0})
	case r.Method == http.MethodPut || r.Method == http.MethodPost:
		var data map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil || rel == "" {
			writeErrors(w, http.StatusBadRequest, "invalid request")
			return
		}
		store[rel] = data
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodDelete:
		delete(store, rel)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeErrors(w, http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleKV2(w http.ResponseWriter, r *http.Request, m *mount, rel string, isList bool) {
	op, key := rel, ""
	if i := strings.Index(rel, "/"); i >= 0 {
		op, key = rel[:i], rel[i+1:]
	}
	key = strings.Trim(key, "/")
	entry := m.kv2[key]

	switch {
	case op == "metadata" && isList:
		keys := make([]string, 0, len(m.kv2))
		for k := range m.kv2 {
			keys = append(keys, k)
		}
		writeList(w, children(keys, key))

	case op == "metadata" && r.Method == http.MethodDelete:
		delete(m.kv2, key)
		w.WriteHeader(http.StatusNoContent)

	case op == "metadata" && r.Method == http.MethodGet:
		if entry == nil {
			writeErrors(w, http.StatusNotFound)
			return
		}
		versions := map[string]interface{}{}
		for i, v := range entry.versions {
			versions[fmt.Sprint(i+1)] = versionMetadata(i+1, v)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
			"current_version": len(entry.versions),
			"versions":        versions,
		}})

	case op == "data" && r.Method == http.MethodGet:
		v := (*kv2Version)(nil)
		if entry != nil {
			v = entry.latest()
		}
		if v == nil || v.deleted || v.destroyed {
			writeErrors(w, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
			"data":     v.data,
			"metadata": versionMetadata(len(entry.versions), v),
		}})

	case op == "data" && (r.Method == http.MethodPut || r.Method == http.MethodPost):
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || key == "" || body.Data == nil {
			writeErrors(w, http.StatusBadRequest, "no data provided")
			return
		}
		if entry == nil {
			entry = &kv2Entry{}
			m.kv2[key] = entry
		}
		v := &kv2Version{data: body.Data, created: time.Now().UTC()}
		entry.versions = append(entry.versions, v)
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": versionMetadata(len(entry.versions), v)})

	case op == "data" && r.Method == http.MethodDelete:
		if entry != nil && entry.latest() != nil {
			entry.latest().deleted = true
		}
		w.WriteHeader(http.StatusNoContent)

	case (op == "destroy" || op == "delete") && (r.Method == http.MethodPut || r.Method == http.MethodPost):
		var body struct {
			Versions []int `json:"versions"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if entry != nil {
			for _, n := range body.Versions {
				if n >= 1 && n <= len(entry.versions) {
					if op == "destroy" {
						entry.versions[n-1].destroyed = true
					} else {
						entry.versions[n-1].deleted = true
					}
				}
			}
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeErrors(w, http.StatusMethodNotAllowed)
	}
}

func versionMetadata(n int, v *kv2Version) map[string]interface{} {
	return map[string]interface{}{
		"version":         n,
		"created_time":    v.created.Format(time.RFC3339Nano),
		"deletion_time":   "",
		"destroyed":       v.destroyed,
		"custom_metadata": nil,
	}
}

// children returns the immediate entries under dir among keys: leaves as
// "name" and intermediate directories as "name/".
func children(keys []string, dir string) []string {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	seen := map[string]bool{}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) || k == dir {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			seen[rest[:i+1]] = true
		} else {
			seen[rest] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func writeList(w http.ResponseWriter, keys []string) {
	if len(keys) == 0 {
		writeErrors(w, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"keys": keys}})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrors(w http.ResponseWriter, status int, msgs ...string) {
	if msgs == nil {
		msgs = []string{}
	}
	writeJSON(w, status, map[string]interface{}{"errors": msgs})
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
