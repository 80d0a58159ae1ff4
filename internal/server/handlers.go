package server

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/codec"
	"github.com/sushant-115/pagedb/core/dberror"
	"github.com/sushant-115/pagedb/core/indexing/btree"
	"github.com/sushant-115/pagedb/core/indexing/table"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type StatsResponse struct {
	Path      string `json:"path"`
	PageSize  int    `json:"page_size"`
	PageCount uint32 `json:"page_count"`
	FileBytes int64  `json:"file_bytes"`
	Version   uint64 `json:"version"`
	Roots     int    `json:"roots"`
}

type RootResponse struct {
	Name   string `json:"name"`
	PageID uint32 `json:"page_id"`
	Kind   string `json:"kind"`
}

type TreeResponse struct {
	Name      string      `json:"name"`
	Root      uint32      `json:"root"`
	KeyType   string      `json:"key_type"`
	ValueType string      `json:"value_type"`
	Stats     btree.Stats `json:"stats"`
	FillRatio float64     `json:"fill_ratio"`
}

type LookupResponse struct {
	Name   string   `json:"name"`
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

type TableResponse struct {
	Name      string   `json:"name"`
	KeyType   string   `json:"key_type"`
	ValueType string   `json:"value_type"`
	Pages     []uint32 `json:"pages"`
	Pairs     uint64   `json:"pairs"`
}

type PageResponse struct {
	PageID uint32 `json:"page_id"`
	Kind   string `json:"kind"`
	Size   int    `json:"size"`
	Hex    string `json:"hex"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, HealthResponse{Status: "ok", Uptime: time.Since(s.started).Round(time.Second).String()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	err := s.store.Read(r.Context(), func(txn *pagefile.ReadTxn) error {
		names, err := txn.RootNames()
		if err != nil {
			return err
		}
		resp = StatsResponse{
			Path:      s.store.Path(),
			PageSize:  s.store.PageSize(),
			PageCount: s.store.PageCount(),
			FileBytes: int64(s.store.PageCount()) * int64(s.store.PageSize()),
			Version:   uint64(txn.Version()),
			Roots:     len(names),
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleRoots(w http.ResponseWriter, r *http.Request) {
	var roots []RootResponse
	err := s.store.Read(r.Context(), func(txn *pagefile.ReadTxn) error {
		names, err := txn.RootNames()
		if err != nil {
			return err
		}
		roots = make([]RootResponse, 0, len(names))
		for _, name := range names {
			pid, err := txn.GetRoot(name)
			if err != nil {
				return err
			}
			raw, err := txn.RawPage(pid)
			if err != nil {
				return err
			}
			roots = append(roots, RootResponse{Name: name, PageID: uint32(pid), Kind: pageKind(raw)})
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, roots)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var resp TreeResponse
	err := s.store.Read(r.Context(), func(txn *pagefile.ReadTxn) error {
		t, err := btree.OpenDynamic(txn, name)
		if err != nil {
			return err
		}
		st, err := t.Stats()
		if err != nil {
			return err
		}
		keys, values, err := codec.LookupPair(t.TypeTag())
		if err != nil {
			return err
		}
		resp = TreeResponse{
			Name:      name,
			Root:      uint32(t.Root()),
			KeyType:   keys.Name,
			ValueType: values.Name,
			Stats:     st,
			FillRatio: st.FillRatio(),
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleTreeGet(w http.ResponseWriter, r *http.Request) {
	name, rawKey := chi.URLParam(r, "name"), chi.URLParam(r, "key")
	resp := LookupResponse{Name: name, Key: rawKey, Values: []string{}}
	err := s.store.Read(r.Context(), func(txn *pagefile.ReadTxn) error {
		t, err := btree.OpenDynamic(txn, name)
		if err != nil {
			return err
		}
		keys, _, err := codec.LookupPair(t.TypeTag())
		if err != nil {
			return err
		}
		k, err := keys.Parse(rawKey)
		if err != nil {
			return err
		}
		values, err := t.Get(k)
		if err != nil {
			return err
		}
		for _, v := range values {
			resp.Values = append(resp.Values, fmt.Sprint(v))
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var resp TableResponse
	err := s.store.Read(r.Context(), func(txn *pagefile.ReadTxn) error {
		t, err := table.OpenDynamic(txn, name)
		if err != nil {
			return err
		}
		pages, err := t.Pages()
		if err != nil {
			return err
		}
		count, err := t.Count()
		if err != nil {
			return err
		}
		keys, values, err := codec.LookupPair(t.TypeTag())
		if err != nil {
			return err
		}
		resp = TableResponse{Name: name, KeyType: keys.Name, ValueType: values.Name, Pairs: count}
		for _, pid := range pages {
			resp.Pages = append(resp.Pages, uint32(pid))
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.ParseUint(chi.URLParam(r, "pid"), 10, 32)
	if err != nil {
		http.Error(w, "page id must be an unsigned 32-bit integer", http.StatusBadRequest)
		return
	}
	if uint32(pid) >= s.store.PageCount() {
		http.Error(w, fmt.Sprintf("page %d is beyond the %d committed pages", pid, s.store.PageCount()), http.StatusNotFound)
		return
	}
	var raw []byte
	err = s.store.Read(r.Context(), func(txn *pagefile.ReadTxn) error {
		raw, err = txn.RawPage(pagemanager.PageID(pid))
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, PageResponse{
		PageID: uint32(pid),
		Kind:   pageKind(raw),
		Size:   len(raw),
		Hex:    hex.EncodeToString(raw),
	})
}

func pageKind(raw []byte) string {
	if len(raw) < 4 {
		return "truncated"
	}
	return pagemanager.CookieName(binary.BigEndian.Uint32(raw))
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dberror.ErrKeyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dberror.ErrSerialization):
		status = http.StatusBadRequest
	case errors.Is(err, dberror.ErrData), errors.Is(err, dberror.ErrUnsupportedCodec):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}
