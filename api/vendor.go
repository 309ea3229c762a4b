// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/secret"
)

type vendorTokenRequest struct {
	Token string `json:"token"`
}

// RegisterVendorToken stores an AI vendor API token (for example
// "openai" or "anthropic") with the account. Concurrent registrations
// for the same vendor share one request; the token of the first caller
// wins. The token is borrowed and only read before the request starts.
func (c *Client) RegisterVendorToken(ctx context.Context, vendor string, token *secret.Buffer) error {
	if err := c.checkDisposed(); err != nil {
		return err
	}
	if vendor == "" {
		return fmt.Errorf("api: vendor is required")
	}
	if token == nil || token.Len() == 0 {
		return fmt.Errorf("api: vendor token is required")
	}

	// Token is converted to string at the JSON serialization boundary.
	body := vendorTokenRequest{Token: token.String()}
	_, err := c.vendorRegistrations.Do(ctx, "vendor:"+vendor, func(ctx context.Context) (struct{}, error) {
		path := "/v1/connect/" + url.PathEscape(vendor) + "/register"
		if err := c.doRequest(ctx, http.MethodPost, path, body, nil); err != nil {
			return struct{}{}, fmt.Errorf("api: registering %s token: %w", vendor, err)
		}
		c.logger.Info("vendor token registered", "vendor", vendor)
		return struct{}{}, nil
	})
	return err
}
