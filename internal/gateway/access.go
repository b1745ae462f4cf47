package gateway

import (
	"net/http"

	"github.com/datatap/datatap/internal/model"
)

// CheckAccess reports whether key may call endpoint. Scope "all" always
// passes; scope "specific" passes only when the endpoint is on the key's
// allow-list.
func CheckAccess(key *model.APIKey, endpoint *model.Endpoint) error {
	if key.Allows(endpoint.ID) {
		return nil
	}
	return newError(KindAccessDenied, http.StatusForbidden, "API key does not have access to this endpoint")
}
