package parties

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"propertyescrow/pkg/auth"
	"propertyescrow/pkg/response"
)

type PartyHandler struct {
	service PartyService
}

func NewPartyHandler(service PartyService) *PartyHandler {
	return &PartyHandler{service: service}
}

// RegisterRoutes mounts the directory. Writes always target the caller's own
// address.
func (h *PartyHandler) RegisterRoutes(router gin.IRouter, authenticate gin.HandlerFunc) {
	router.GET("/parties", h.listParties)
	router.GET("/parties/:address", h.getParty)

	authed := router.Group("/", authenticate)
	authed.POST("/parties", h.registerParty)
	authed.PUT("/parties/:address", h.updateParty)
	authed.DELETE("/parties/:address", h.deleteParty)
}

type partyRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
	Role  string `json:"role" binding:"required"`
}

// @Summary      Register party
// @Description  Registers the caller's address in the party directory
// @Tags         parties
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body partyRequest true "Party details"
// @Success      201 {object} response.APIResponse{data=Party}
// @Failure      400 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /parties [post]
func (h *PartyHandler) registerParty(c *gin.Context) {
	caller, ok := auth.Caller(c)
	if !ok {
		response.AbortWithAPIResponse(c, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req partyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}

	p, err := h.service.RegisterParty(c.Request.Context(), Party{
		Address: caller,
		Name:    req.Name,
		Email:   req.Email,
		Role:    req.Role,
	})
	if err != nil {
		writePartyError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusCreated, true, "party registered", p)
}

// @Summary      Update party
// @Tags         parties
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        address path string true "Party address"
// @Param        request body partyRequest true "Party details"
// @Success      200 {object} response.APIResponse{data=Party}
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /parties/{address} [put]
func (h *PartyHandler) updateParty(c *gin.Context) {
	addr, ok := h.ownAddress(c)
	if !ok {
		return
	}
	var req partyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}

	p, err := h.service.UpdateParty(c.Request.Context(), Party{
		Address: addr,
		Name:    req.Name,
		Email:   req.Email,
		Role:    req.Role,
	})
	if err != nil {
		writePartyError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "party updated", p)
}

// @Summary      Delete party
// @Tags         parties
// @Produce      json
// @Security     BearerAuth
// @Param        address path string true "Party address"
// @Success      200 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /parties/{address} [delete]
func (h *PartyHandler) deleteParty(c *gin.Context) {
	addr, ok := h.ownAddress(c)
	if !ok {
		return
	}
	if err := h.service.DeleteParty(c.Request.Context(), addr); err != nil {
		writePartyError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "party deleted", nil)
}

// @Summary      Get party
// @Tags         parties
// @Produce      json
// @Param        address path string true "Party address"
// @Success      200 {object} response.APIResponse{data=Party}
// @Failure      400 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /parties/{address} [get]
func (h *PartyHandler) getParty(c *gin.Context) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid address", nil)
		return
	}

	p, err := h.service.GetParty(c.Request.Context(), common.HexToAddress(raw))
	if err != nil {
		writePartyError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "party fetched", p)
}

// @Summary      List parties
// @Tags         parties
// @Produce      json
// @Param        page  query int false "Page number" default(1)
// @Param        limit query int false "Items per page" default(10)
// @Success      200 {object} response.APIResponse{data=PartyList}
// @Failure      500 {object} response.APIResponse
// @Router       /parties [get]
func (h *PartyHandler) listParties(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	items, total, err := h.service.ListParties(c.Request.Context(), page, limit)
	if err != nil {
		response.SendAPIResponse(c, http.StatusInternalServerError, false, err.Error(), nil)
		return
	}
	if items == nil {
		items = []Party{}
	}
	response.SendAPIResponse(c, http.StatusOK, true, "parties listed", PartyList{Items: items, Total: total, Page: page, Limit: limit})
}

func (h *PartyHandler) ownAddress(c *gin.Context) (common.Address, bool) {
	caller, ok := auth.Caller(c)
	if !ok {
		response.AbortWithAPIResponse(c, http.StatusUnauthorized, "missing caller identity")
		return common.Address{}, false
	}
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid address", nil)
		return common.Address{}, false
	}
	addr := common.HexToAddress(raw)
	if addr != caller {
		response.SendAPIResponse(c, http.StatusForbidden, false, "parties may only modify their own entry", nil)
		return common.Address{}, false
	}
	return addr, true
}

func writePartyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPartyNotFound):
		response.SendAPIResponse(c, http.StatusNotFound, false, err.Error(), nil)
	case errors.Is(err, ErrPartyExists):
		response.SendAPIResponse(c, http.StatusConflict, false, err.Error(), nil)
	case errors.Is(err, ErrInvalidRole), errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrInvalidName):
		response.SendAPIResponse(c, http.StatusBadRequest, false, err.Error(), nil)
	default:
		response.SendAPIResponse(c, http.StatusInternalServerError, false, err.Error(), nil)
	}
}
