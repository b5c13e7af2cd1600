package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/groupcap/internal/collection"
	"github.com/charlesng35/groupcap/pkg/response"
	"github.com/charlesng35/groupcap/pkg/validator"

	appErrors "github.com/charlesng35/groupcap/pkg/errors"
)

// GroupHandler exposes the bounded collection operations over HTTP.
type GroupHandler struct {
	coll collection.Collection
}

// NewGroupHandler constructs the handler around a collection backend.
func NewGroupHandler(coll collection.Collection) (*GroupHandler, error) {
	if coll == nil {
		return nil, errors.New("group handler: collection is required")
	}
	return &GroupHandler{coll: coll}, nil
}

type insertRequest struct {
	EntryID int64           `json:"entry_id" validate:"required"`
	Payload json.RawMessage `json:"payload"`
}

type insertBatchRequest struct {
	EntryIDs []int64 `json:"entry_ids" validate:"required,min=1"`
}

// POST /api/groups/:groupID/entries
func (h *GroupHandler) Insert(c *gin.Context) {
	var req insertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid insert payload"))
		return
	}
	if err := validator.ValidateStruct(req); err != nil {
		response.Error(c, appErrors.NewBadRequest(err.Error()))
		return
	}

	groupID := c.Param("groupID")
	if err := h.coll.Insert(requestContext(c), groupID, req.EntryID, req.Payload); err != nil {
		renderCollectionError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"group_id": groupID,
		"entry_id": req.EntryID,
	})
}

// POST /api/groups/:groupID/entries/batch
func (h *GroupHandler) InsertBatch(c *gin.Context) {
	var req insertBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid batch payload"))
		return
	}
	if err := validator.ValidateStruct(req); err != nil {
		response.Error(c, appErrors.NewBadRequest(err.Error()))
		return
	}

	groupID := c.Param("groupID")
	if err := h.coll.InsertMany(requestContext(c), groupID, req.EntryIDs); err != nil {
		renderCollectionError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"group_id": groupID,
		"inserted": len(req.EntryIDs),
	})
}

// DELETE /api/groups/:groupID/entries/:entryID
func (h *GroupHandler) Delete(c *gin.Context) {
	entryID, err := strconv.ParseInt(c.Param("entryID"), 10, 64)
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("entry id must be an integer"))
		return
	}

	groupID := c.Param("groupID")
	if err := h.coll.Delete(requestContext(c), groupID, entryID); err != nil {
		renderCollectionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"group_id": groupID,
		"entry_id": entryID,
	})
}

// GET /api/groups/:groupID/count
func (h *GroupHandler) Count(c *gin.Context) {
	groupID := c.Param("groupID")

	count, err := h.coll.Count(requestContext(c), groupID)
	if err != nil {
		renderCollectionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"group_id": groupID,
		"count":    count,
		"capacity": h.coll.Capacity(groupID),
	})
}

// GET /api/groups/:groupID/entries
func (h *GroupHandler) Members(c *gin.Context) {
	groupID := c.Param("groupID")

	members, err := h.coll.Members(requestContext(c), groupID)
	if err != nil {
		renderCollectionError(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, members, &response.Meta{
		Total:    len(members),
		Capacity: h.coll.Capacity(groupID),
	})
}

// POST /api/groups/:groupID/recount
func (h *GroupHandler) Recount(c *gin.Context) {
	groupID := c.Param("groupID")

	count, err := h.coll.Recount(requestContext(c), groupID)
	if err != nil {
		renderCollectionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"group_id": groupID,
		"count":    count,
	})
}

func renderCollectionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, collection.ErrDuplicateEntry):
		response.Error(c, appErrors.ErrDuplicateEntry)
	case errors.Is(err, collection.ErrEntryNotFound):
		response.Error(c, appErrors.ErrNotFound)
	case errors.Is(err, collection.ErrCounterDesync):
		response.Error(c, appErrors.ErrCounterDesync.WithInternal(err))
	default:
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
	}
}
