package driven

import (
	"context"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
)

// MarketClient defines the driven port for the remote market API. Methods that
// take a credential send it as the session cookie.
type MarketClient interface {
	// FetchCSRFToken performs the first step of the login handshake.
	FetchCSRFToken(ctx context.Context) (string, error)

	// Login submits account credentials with the anti-forgery token and returns
	// the session cookie, including its Expires/Max-Age attributes.
	Login(ctx context.Context, csrfToken string) (string, error)

	// FetchSaleOrders returns the current sale orders of a sales building.
	FetchSaleOrders(ctx context.Context, credential string, buildingID int64) ([]model.SaleOrder, error)

	// FetchBuildings returns all buildings of the authenticated company.
	FetchBuildings(ctx context.Context, credential string) ([]model.Building, error)
}
