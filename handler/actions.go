package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	"github.com/quipubase/quipubase/schema"
	"github.com/quipubase/quipubase/store"
)

// Actions accepted by POST /api/actions.
const (
	ActionPutDoc    = "putDoc"
	ActionGetDoc    = "getDoc"
	ActionMergeDoc  = "mergeDoc"
	ActionDeleteDoc = "deleteDoc"
	ActionFindDocs  = "findDocs"
	ActionScanDocs  = "scanDocs"
	ActionCountDocs = "countDocs"
	ActionExistsDoc = "existsDoc"
)

// ActionRequest is the body of POST /api/actions. Data carries the document
// for putDoc and mergeDoc and the filters for findDocs. When Definition is
// set, Data is validated against it first.
type ActionRequest struct {
	Action     string          `json:"action"`
	Key        string          `json:"key,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Definition json.RawMessage `json:"definition,omitempty"`
	Limit      *int            `json:"limit,omitempty"`
	Offset     *int            `json:"offset,omitempty"`
	KeysOnly   bool            `json:"keys_only,omitempty"`
}

var errSchema = errors.New("schema validation failed")

func (h *Handler) action(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	data, err := rawDocument("data", req.Data)
	if err != nil {
		h.writeActionError(w, r, err)
		return
	}
	if len(req.Definition) > 0 && data != nil {
		if err := h.validate(req, data); err != nil {
			h.writeActionError(w, r, err)
			return
		}
	}

	limit, offset := defaultLimit, 0
	if req.Limit != nil {
		limit = *req.Limit
	}
	if req.Offset != nil {
		offset = *req.Offset
	}

	switch req.Action {
	case ActionPutDoc:
		key := req.Key
		if key == "" {
			key = newKey()
		}
		if err := h.store.PutDoc(key, data); err != nil {
			h.writeActionError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, Status{Code: http.StatusCreated, Message: "Document created", Key: key})

	case ActionGetDoc:
		doc, ok, err := h.store.GetDoc(req.Key)
		if err != nil {
			h.writeActionError(w, r, err)
			return
		}
		if !ok {
			writeJSON(w, r, http.StatusNotFound, Status{Code: http.StatusNotFound, Message: "Document not found", Key: req.Key})
			return
		}
		writeJSON(w, r, http.StatusOK, store.Entry{Key: req.Key, Doc: doc})

	case ActionMergeDoc:
		if err := h.store.MergeDoc(req.Key, data); err != nil {
			h.writeActionError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, Status{Code: http.StatusOK, Message: "Document updated", Key: req.Key})

	case ActionDeleteDoc:
		if err := h.store.DeleteDoc(req.Key); err != nil {
			h.writeActionError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, Status{Code: http.StatusNoContent, Message: "Document deleted", Key: req.Key})

	case ActionFindDocs:
		cur, err := h.store.FindDocs(limit, offset, data)
		h.writeCursor(w, r, cur, err)

	case ActionScanDocs:
		cur, err := h.store.ScanDocs(limit, offset, req.KeysOnly)
		h.writeCursor(w, r, cur, err)

	case ActionCountDocs:
		n, err := h.store.Count()
		if err != nil {
			h.writeActionError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]int{"count": n})

	case ActionExistsDoc:
		ok, err := h.store.Exists(req.Key)
		if err != nil {
			h.writeActionError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"key": req.Key, "exists": ok})

	default:
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
	}
}

// validate checks data against the request's definition. Merge patches are
// partial documents, so required fields are not enforced for them.
func (h *Handler) validate(req ActionRequest, data store.Document) error {
	def, err := rawDocument("definition", req.Definition)
	if err != nil {
		return err
	}
	if req.Action == ActionMergeDoc {
		err = schema.ValidatePartial(def, data)
	} else {
		err = schema.Validate(def, data)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errSchema, err)
	}
	return nil
}

func (h *Handler) writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errSchema) {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.writeStoreError(w, r, err)
}

// rawDocument decodes an optional embedded object. Absent and null both
// yield nil.
func rawDocument(field string, raw json.RawMessage) (store.Document, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var doc store.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		if field == "definition" {
			return nil, fmt.Errorf("%w: definition: %v", store.ErrInvalidArgument, err)
		}
		return nil, err
	}
	return doc, nil
}
