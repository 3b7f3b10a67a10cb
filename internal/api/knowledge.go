package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/efebarandurmaz/stackflow/internal/editor"
	"github.com/efebarandurmaz/stackflow/internal/knowledge"
	"github.com/efebarandurmaz/stackflow/internal/validation"
	"github.com/efebarandurmaz/stackflow/internal/workflow"
)

// multipartMemory is the part of an upload parsed into memory; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

// uploadForm holds the non-file fields of POST /knowledge/upload. When
// stack_id and node_id are given the upload is recorded on that
// KnowledgeBase node and the stack is saved.
type uploadForm struct {
	StackID        string `validate:"required_with=NodeID"`
	NodeID         string `validate:"required_with=StackID"`
	EmbeddingModel string `validate:"max=128"`
	APIKey         string `validate:"max=512"`
}

// UploadResponse reports an indexed file.
type UploadResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	CollectionName string `json:"collection_name"`
	Chunks         int    `json:"chunks"`
}

// uploadKnowledge handles POST /knowledge/upload
func (rt *Router) uploadKnowledge(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.deps.MaxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rt.respondError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		rt.respondError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := uploadForm{
		StackID:        r.FormValue("stack_id"),
		NodeID:         r.FormValue("node_id"),
		EmbeddingModel: r.FormValue("embedding_model"),
		APIKey:         r.FormValue("api_key"),
	}
	if err := validation.Struct(form); err != nil {
		rt.respondErr(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		rt.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		rt.respondError(w, http.StatusBadRequest, "read file: "+err.Error())
		return
	}

	var res *knowledge.Result
	if form.StackID != "" {
		res, err = rt.uploadToNode(r, form, header.Filename, data)
	} else {
		res, err = rt.deps.Knowledge.Ingest(r.Context(), knowledge.Upload{
			FileName:       header.Filename,
			Data:           data,
			EmbeddingModel: form.EmbeddingModel,
			APIKey:         form.APIKey,
		})
	}
	if err != nil {
		rt.respondErr(w, r, err)
		return
	}

	if rt.deps.Emitter != nil {
		rt.deps.Emitter.KnowledgeIndexed(res.CollectionName, res.Chunks)
	}
	rt.respondJSON(w, http.StatusOK, UploadResponse{
		Success:        res.Ready,
		Message:        fmt.Sprintf("%s processed into %d chunks", header.Filename, res.Chunks),
		CollectionName: res.CollectionName,
		Chunks:         res.Chunks,
	})
}

// uploadToNode indexes the file through the stack's editor session so the
// node's readiness and the downstream templates are updated and saved.
func (rt *Router) uploadToNode(r *http.Request, form uploadForm, fileName string, data []byte) (*knowledge.Result, error) {
	ctx := r.Context()
	s, release, err := rt.sessions.acquire(ctx, form.StackID)
	if err != nil {
		return nil, err
	}
	defer release()

	patch := map[string]any{}
	if form.EmbeddingModel != "" {
		patch["embeddingModel"] = form.EmbeddingModel
	}
	if form.APIKey != "" {
		patch["apiKey"] = form.APIKey
	}
	err = s.Do(func(d *workflow.Document) error {
		cfg, err := d.Config(form.NodeID)
		if err != nil {
			return err
		}
		if _, ok := cfg.(*workflow.KnowledgeBaseConfig); !ok {
			return fmt.Errorf("%w: %s", editor.ErrNotKnowledgeBase, form.NodeID)
		}
		if len(patch) == 0 {
			return nil
		}
		return d.Patch(form.NodeID, patch)
	})
	if err != nil {
		return nil, err
	}

	res, uploadErr := s.Upload(ctx, form.NodeID, fileName, data)
	// The readiness flag changed either way; persist it.
	if err := rt.sessions.save(ctx, s); err != nil {
		if uploadErr != nil {
			rt.logger.Warn("save after failed upload", "stack", form.StackID, "error", err)
			return nil, uploadErr
		}
		return nil, err
	}
	return res, uploadErr
}
