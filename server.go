package board

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
)

// Server exposes an Engine over REST/JSON, following the corpus's own
// plain net/http + http.ServeMux server (see the corpus's server.go) —
// no router framework, hand-written path matching, and the same
// {"Ok": ...} / {"Err": ...} response envelope described in the
// specification's endpoint surface rather than the corpus's own
// {"status": ...} shape, since this domain's callers need to
// distinguish success from failure programmatically rather than by
// HTTP status alone.
type Server struct {
	engine *Engine
	log    logr.Logger
}

// NewServer wraps engine for HTTP serving.
func NewServer(engine *Engine, log logr.Logger) *Server {
	return &Server{engine: engine, log: log}
}

type okEnvelope struct {
	Ok any `json:"Ok"`
}

type errEnvelope struct {
	Err string `json:"Err"`
}

func writeOk(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(okEnvelope{Ok: v})
}

func writeErr(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errEnvelope{Err: err.Error()})
}

func statusFor(err error) int {
	switch {
	case err == ErrUnknownHash, err == ErrNotALeaf:
		return http.StatusNotFound
	case err == ErrNothingToPublish, err == ErrAlreadyCensored:
		return http.StatusConflict
	default:
		var hc *HashCollisionError
		var iv *InvariantViolationError
		if asHashCollision(err, &hc) || asInvariantViolation(err, &iv) {
			return http.StatusConflict
		}
		return http.StatusInternalServerError
	}
}

func asHashCollision(err error, target **HashCollisionError) bool {
	if hc, ok := err.(*HashCollisionError); ok {
		*target = hc
		return true
	}
	return false
}

func asInvariantViolation(err error, target **InvariantViolationError) bool {
	if iv, ok := err.(*InvariantViolationError); ok {
		*target = iv
		return true
	}
	return false
}

// SetupRoutes registers every board endpoint onto mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/submit_leaf", s.handleSubmit)
	mux.HandleFunc("/request_new_published_root", s.handlePublish)
	mux.HandleFunc("/get_pending_hash_values", s.handleGetPending)
	mux.HandleFunc("/get_most_recent_published_root", s.handleGetMostRecentRoot)
	mux.HandleFunc("/get_all_published_roots", s.handleGetAllRoots)
	mux.HandleFunc("/get_hash_info", s.handleGetHashInfo)
	mux.HandleFunc("/get_proof_chain", s.handleGetProofChain)
	mux.HandleFunc("/censor_leaf", s.handleCensor)
	mux.HandleFunc("/export", s.handleExport)
	mux.HandleFunc("/ws/pending", s.HandleWSPending)
}

type submitRequest struct {
	Data string `json:"data"` // hex-encoded, or a literal string if it doesn't parse as hex
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("board: decode request: %w", err))
		return
	}
	data, err := decodeHexOrRaw(req.Data)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	h, err := s.engine.SubmitLeaf(data)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	s.log.V(1).Info("http_submit", "hash", HexString(h))
	writeOk(w, map[string]string{"hash": HexString(h)})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h, err := s.engine.RequestNewPublishedRoot()
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeOk(w, map[string]string{"hash": HexString(h)})
}

func (s *Server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	hashes, err := s.engine.GetPendingHashValues()
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeOk(w, hexList(hashes))
}

func (s *Server) handleGetMostRecentRoot(w http.ResponseWriter, r *http.Request) {
	h, ok, err := s.engine.GetMostRecentPublishedRoot()
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	if !ok {
		writeOk(w, nil)
		return
	}
	writeOk(w, map[string]string{"hash": HexString(h)})
}

func (s *Server) handleGetAllRoots(w http.ResponseWriter, r *http.Request) {
	hashes, err := s.engine.GetAllPublishedRoots()
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeOk(w, hexList(hashes))
}

func (s *Server) handleGetHashInfo(w http.ResponseWriter, r *http.Request) {
	h, err := parseHashQuery(r, "hash")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.engine.GetHashInfo(h)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeOk(w, nodeToJSON(h, n))
}

func (s *Server) handleGetProofChain(w http.ResponseWriter, r *http.Request) {
	h, err := parseHashQuery(r, "hash")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	pc, err := s.engine.GetProofChain(h)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeOk(w, proofChainToJSON(pc))
}

type censorRequest struct {
	Hash string `json:"hash"`
}

func (s *Server) handleCensor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req censorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("board: decode request: %w", err))
		return
	}
	h, err := ParseHash(req.Hash)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.CensorLeaf(h); err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeOk(w, map[string]string{"hash": HexString(h)})
}

// handleExport streams every stored node as newline-delimited JSON, one
// object per line, for full-history download (specification §6's
// addition beyond the distilled endpoint list).
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)

	leaves, leafDone, err := s.engine.backend.AllLeaves()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	for rec := range leaves {
		_ = enc.Encode(map[string]any{"kind": "leaf", "hash": HexString(rec.Hash), "timestamp": rec.Leaf.Timestamp, "censored": rec.Leaf.Censored, "data": dataOrNil(rec.Leaf)})
	}
	_ = leafDone()

	branches, branchDone, err := s.engine.backend.AllBranches()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	for rec := range branches {
		_ = enc.Encode(map[string]any{"kind": "branch", "hash": HexString(rec.Hash), "left": HexString(rec.Branch.Left), "right": HexString(rec.Branch.Right)})
	}
	_ = branchDone()

	roots, rootDone, err := s.engine.backend.AllRoots()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	for rec := range roots {
		_ = enc.Encode(map[string]any{"kind": "root", "hash": HexString(rec.Hash), "timestamp": rec.Root.Timestamp, "prior": priorOrNil(rec.Root.Prior), "elements": hexList(rec.Root.Elements)})
	}
	_ = rootDone()
}

func dataOrNil(l Leaf) any {
	if l.Censored {
		return nil
	}
	return hex.EncodeToString(l.Data)
}

func priorOrNil(h *Hash) any {
	if h == nil {
		return nil
	}
	return HexString(*h)
}

func hexList(hashes []Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = HexString(h)
	}
	return out
}

// decodeHexOrRaw decodes s as hex when it parses as hex, and otherwise
// treats s as the literal submitted bytes. This lets a caller hex-encode
// binary payloads while still allowing a plain string like "A" to be
// submitted directly, matching what a JSON string field naturally holds.
func decodeHexOrRaw(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	return []byte(s), nil
}

func parseHashQuery(r *http.Request, name string) (Hash, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return Hash{}, fmt.Errorf("board: missing query parameter %q", name)
	}
	return ParseHash(strings.TrimSpace(v))
}

func nodeToJSON(h Hash, n Node) map[string]any {
	out := map[string]any{"hash": HexString(h), "kind": n.Kind.String()}
	switch n.Kind {
	case KindLeaf:
		out["timestamp"] = n.Leaf.Timestamp
		out["censored"] = n.Leaf.Censored
		out["data"] = dataOrNil(*n.Leaf)
		if n.Leaf.Parent != nil {
			out["parent"] = HexString(*n.Leaf.Parent)
		}
	case KindBranch:
		out["left"] = HexString(n.Branch.Left)
		out["right"] = HexString(n.Branch.Right)
		if n.Branch.Parent != nil {
			out["parent"] = HexString(*n.Branch.Parent)
		}
	case KindRoot:
		out["timestamp"] = n.Root.Timestamp
		out["prior"] = priorOrNil(n.Root.Prior)
		out["elements"] = hexList(n.Root.Elements)
	}
	return out
}

func proofChainToJSON(pc ProofChain) map[string]any {
	chain := make([]map[string]any, len(pc.Chain))
	for i, link := range pc.Chain {
		chain[i] = nodeToJSON(link.Hash, link.Node)
	}
	out := map[string]any{"chain": chain}
	if pc.PublishedRoot != nil {
		out["published_root"] = nodeToJSON(pc.PublishedRoot.Hash, Node{Kind: KindRoot, Root: &pc.PublishedRoot.Root})
	} else {
		out["published_root"] = nil
	}
	return out
}
