package registry

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"propertyescrow/pkg/auth"
	"propertyescrow/pkg/response"
)

type RegistryHandler struct {
	registry Registry
}

func NewRegistryHandler(registry Registry) *RegistryHandler {
	return &RegistryHandler{registry: registry}
}

func (h *RegistryHandler) RegisterRoutes(router gin.IRouter, authenticate gin.HandlerFunc) {
	router.GET("/properties", h.getSupply)
	router.GET("/properties/:id", h.getProperty)
	router.GET("/properties/:id/owner", h.getOwner)

	authed := router.Group("/", authenticate)
	authed.POST("/properties", h.mint)
	authed.POST("/properties/:id/approve", h.approve)
	authed.POST("/properties/:id/transfer", h.transfer)
}

type mintRequest struct {
	MetadataURI string `json:"metadata_uri" binding:"required"`
}

type approveRequest struct {
	Spender string `json:"spender" binding:"required"`
}

type transferRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

type propertyResponse struct {
	ID          uint64 `json:"id"`
	Owner       string `json:"owner"`
	MetadataURI string `json:"metadata_uri"`
}

type supplyResponse struct {
	Registry    string `json:"registry"`
	TotalSupply uint64 `json:"total_supply"`
}

// @Summary      Registry supply
// @Description  Returns the registry address and the number of minted properties
// @Tags         properties
// @Produce      json
// @Success      200  {object}  response.APIResponse{data=supplyResponse}
// @Failure      500  {object}  response.APIResponse "Internal server error"
// @Router       /properties [get]
func (h *RegistryHandler) getSupply(c *gin.Context) {
	total, err := h.registry.TotalSupply(c.Request.Context())
	if err != nil {
		response.SendAPIResponse(c, http.StatusInternalServerError, false, err.Error(), nil)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "supply fetched", supplyResponse{
		Registry:    h.registry.Address().Hex(),
		TotalSupply: total,
	})
}

// @Summary      Get a property
// @Tags         properties
// @Produce      json
// @Param        id   path      int  true  "Property ID"
// @Success      200  {object}  response.APIResponse{data=propertyResponse}
// @Failure      400  {object}  response.APIResponse "Invalid property ID"
// @Failure      404  {object}  response.APIResponse "Property not found"
// @Router       /properties/{id} [get]
func (h *RegistryHandler) getProperty(c *gin.Context) {
	id, ok := parsePropertyID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	owner, err := h.registry.OwnerOf(ctx, id)
	if err != nil {
		writeRegistryError(c, err)
		return
	}
	uri, err := h.registry.TokenURI(ctx, id)
	if err != nil {
		writeRegistryError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "property fetched", propertyResponse{
		ID:          id,
		Owner:       owner.Hex(),
		MetadataURI: uri,
	})
}

// @Summary      Owner of a property
// @Tags         properties
// @Produce      json
// @Param        id   path      int  true  "Property ID"
// @Success      200  {object}  response.APIResponse
// @Failure      404  {object}  response.APIResponse "Property not found"
// @Router       /properties/{id}/owner [get]
func (h *RegistryHandler) getOwner(c *gin.Context) {
	id, ok := parsePropertyID(c)
	if !ok {
		return
	}
	owner, err := h.registry.OwnerOf(c.Request.Context(), id)
	if err != nil {
		writeRegistryError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "owner fetched", gin.H{"owner": owner.Hex()})
}

// @Summary      Mint a property
// @Description  Mints a new property owned by the caller
// @Tags         properties
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body mintRequest true "Property metadata"
// @Success      201  {object}  response.APIResponse{data=propertyResponse}
// @Failure      400  {object}  response.APIResponse "Invalid request payload"
// @Router       /properties [post]
func (h *RegistryHandler) mint(c *gin.Context) {
	caller, ok := auth.Caller(c)
	if !ok {
		response.AbortWithAPIResponse(c, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}

	id, err := h.registry.Mint(c.Request.Context(), caller, req.MetadataURI)
	if err != nil {
		writeRegistryError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusCreated, true, "property minted", propertyResponse{
		ID:          id,
		Owner:       caller.Hex(),
		MetadataURI: req.MetadataURI,
	})
}

// @Summary      Approve a spender
// @Description  Owner approves an address, typically the escrow, to move the property
// @Tags         properties
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path  int             true  "Property ID"
// @Param        request  body  approveRequest  true  "Spender address"
// @Success      200  {object}  response.APIResponse
// @Failure      403  {object}  response.APIResponse "Caller is not the owner"
// @Failure      404  {object}  response.APIResponse "Property not found"
// @Router       /properties/{id}/approve [post]
func (h *RegistryHandler) approve(c *gin.Context) {
	caller, ok := auth.Caller(c)
	if !ok {
		response.AbortWithAPIResponse(c, http.StatusUnauthorized, "missing caller identity")
		return
	}
	id, ok := parsePropertyID(c)
	if !ok {
		return
	}
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil || !common.IsHexAddress(req.Spender) {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid spender address", nil)
		return
	}

	if err := h.registry.Approve(c.Request.Context(), caller, common.HexToAddress(req.Spender), id); err != nil {
		writeRegistryError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "spender approved", nil)
}

// @Summary      Transfer a property
// @Tags         properties
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path  int              true  "Property ID"
// @Param        request  body  transferRequest  true  "Transfer parties"
// @Success      200  {object}  response.APIResponse
// @Failure      403  {object}  response.APIResponse "Caller may not move the property"
// @Failure      404  {object}  response.APIResponse "Property not found"
// @Router       /properties/{id}/transfer [post]
func (h *RegistryHandler) transfer(c *gin.Context) {
	caller, ok := auth.Caller(c)
	if !ok {
		response.AbortWithAPIResponse(c, http.StatusUnauthorized, "missing caller identity")
		return
	}
	id, ok := parsePropertyID(c)
	if !ok {
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil || !common.IsHexAddress(req.From) || !common.IsHexAddress(req.To) {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid transfer payload", nil)
		return
	}

	err := h.registry.TransferFrom(c.Request.Context(), caller, common.HexToAddress(req.From), common.HexToAddress(req.To), id)
	if err != nil {
		writeRegistryError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "property transferred", nil)
}

func parsePropertyID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid property id", nil)
		return 0, false
	}
	return id, true
}

func writeRegistryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTokenNotFound):
		response.SendAPIResponse(c, http.StatusNotFound, false, err.Error(), nil)
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotApproved):
		response.SendAPIResponse(c, http.StatusForbidden, false, err.Error(), nil)
	case errors.Is(err, ErrZeroAddress):
		response.SendAPIResponse(c, http.StatusBadRequest, false, err.Error(), nil)
	default:
		response.SendAPIResponse(c, http.StatusInternalServerError, false, err.Error(), nil)
	}
}
