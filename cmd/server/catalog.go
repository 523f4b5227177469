package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-oidc-engine/clients"
	fakeclientrepo "github.com/jrsteele09/go-oidc-engine/clients/fakerepo"
	"github.com/jrsteele09/go-oidc-engine/resources"
	fakeresourcerepo "github.com/jrsteele09/go-oidc-engine/resources/fakerepo"
	"github.com/jrsteele09/go-oidc-engine/users"
	fakeuserrepo "github.com/jrsteele09/go-oidc-engine/users/repofake"
)

// catalogFile is the JSON layout of bootstrap.catalog_path.
type catalogFile struct {
	Clients           []*clients.Client             `json:"clients"`
	IdentityResources []*resources.IdentityResource `json:"identity_resources"`
	ApiScopes         []*resources.ApiScope         `json:"api_scopes"`
	ApiResources      []*resources.ApiResource      `json:"api_resources"`
	Users             []catalogUser                 `json:"users"`
}

// catalogUser carries a plain text password that is hashed on load.
type catalogUser struct {
	users.User
	Password string `json:"password"`
}

// catalog is the in-memory client, resource and user catalog the server runs on.
type catalog struct {
	clients   *fakeclientrepo.FakeClientRepo
	resources *fakeresourcerepo.FakeResourceRepo
	users     *fakeuserrepo.FakeUserRepo
}

// loadCatalog builds the catalog from path. The standard identity resources are always
// present; an empty path gives a catalog with nothing else.
func loadCatalog(ctx context.Context, path string) (*catalog, error) {
	c := &catalog{
		clients:   fakeclientrepo.NewFakeClientRepo(),
		resources: fakeresourcerepo.NewFakeResourceRepo(&resources.Resources{IdentityResources: resources.StandardIdentityResources()}),
		users:     fakeuserrepo.NewFakeUserRepo(),
	}
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", path, err)
	}

	for _, client := range file.Clients {
		if err := c.clients.Upsert(ctx, client); err != nil {
			return nil, err
		}
	}
	for _, ir := range file.IdentityResources {
		c.resources.AddIdentityResource(ir)
	}
	for _, scope := range file.ApiScopes {
		c.resources.AddApiScope(scope)
	}
	for _, api := range file.ApiResources {
		c.resources.AddApiResource(api)
	}
	now := time.Now().UTC()
	for i := range file.Users {
		u := file.Users[i].User
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if file.Users[i].Password != "" {
			hash, err := users.HashPassword(file.Users[i].Password)
			if err != nil {
				return nil, fmt.Errorf("failed to hash password of %s: %w", u.Username, err)
			}
			u.PasswordHash = hash
		}
		if u.DateJoined.IsZero() {
			u.DateJoined = now
		}
		if err := c.users.Upsert(ctx, &u); err != nil {
			return nil, err
		}
	}
	return c, nil
}
