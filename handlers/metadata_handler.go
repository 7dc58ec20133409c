package handlers

import (
	"net/http"

	"github.com/alparn/agentxsuite-sub000/utils"
	"go.uber.org/zap"
)

// ProtectedResourceMetadata is the discovery document advertised at
// /.well-known/oauth-protected-resource. Clients consume it to learn the
// canonical resource URI and where to obtain tokens for it.
type ProtectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported      []string `json:"scopes_supported,omitempty"`
}

// MetadataHandler serves the protected-resource metadata document
type MetadataHandler struct {
	resourceURI    string
	trustedIssuers []string
	logger         *zap.Logger
}

// NewMetadataHandler creates a new MetadataHandler
func NewMetadataHandler(resourceURI string, trustedIssuers []string, logger *zap.Logger) *MetadataHandler {
	return &MetadataHandler{
		resourceURI:    resourceURI,
		trustedIssuers: trustedIssuers,
		logger:         logger,
	}
}

// HandleMetadata handles GET /.well-known/oauth-protected-resource
func (h *MetadataHandler) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	metadata := ProtectedResourceMetadata{
		Resource:               h.resourceURI,
		AuthorizationServers:   h.trustedIssuers,
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        []string{"authz:check", "authz:admin"},
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := utils.WriteJSON(w, http.StatusOK, metadata); err != nil {
		h.logger.Error("failed to write metadata response", zap.Error(err))
	}
}
