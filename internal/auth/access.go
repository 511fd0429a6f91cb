package auth

import (
	"context"
	"errors"
	"sort"
)

// Resolver computes effective app access and feature capabilities from admin
// status, user-level overrides and group aggregation. All operations are pure
// reads; callers own any caching.
type Resolver struct {
	users  UserStore
	apps   AppStore
	access AccessStore
}

// NewResolver constructs a Resolver over the given stores.
func NewResolver(users UserStore, apps AppStore, access AccessStore) *Resolver {
	return &Resolver{users: users, apps: apps, access: access}
}

// ResolveAppAccess returns the slugs of every app the user may use, sorted.
// Admins get every active app with no further rule evaluation. For everyone
// else an explicit user-level row (grant or deny) wins over group
// inheritance for that app; absence falls through to group aggregation.
// Admin-only apps never appear on the non-admin path.
func (r *Resolver) ResolveAppAccess(ctx context.Context, userID string) ([]string, error) {
	user, err := r.users.Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if user.IsAdmin {
		slugs, err := r.apps.ListActiveSlugs(ctx)
		if err != nil {
			return nil, err
		}
		sort.Strings(slugs)
		return slugs, nil
	}

	overrides, err := r.access.UserOverrides(ctx, userID)
	if err != nil {
		return nil, err
	}
	groupSlugs, err := r.access.GroupGrantedSlugs(ctx, userID)
	if err != nil {
		return nil, err
	}

	accessible := make([]string, 0, len(overrides)+len(groupSlugs))
	for slug, granted := range overrides {
		if granted {
			accessible = append(accessible, slug)
		}
	}
	for _, slug := range groupSlugs {
		if _, overridden := overrides[slug]; !overridden {
			accessible = append(accessible, slug)
		}
	}
	sort.Strings(accessible)
	return accessible, nil
}

// ResolveFeatures returns the feature capability map for one user in one
// app. Admins get the unrestricted sentinel without enumerating features.
// An unknown user or app yields an empty set. Capabilities union by OR
// across all of the user's groups; there is no feature-level deny.
func (r *Resolver) ResolveFeatures(ctx context.Context, userID, appSlug string) (FeatureSet, error) {
	user, err := r.users.Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return FeatureSet{}, nil
	}
	if err != nil {
		return FeatureSet{}, err
	}
	if user.IsAdmin {
		return FeatureSet{Admin: true}, nil
	}

	app, err := r.apps.FindBySlug(ctx, appSlug)
	if errors.Is(err, ErrNotFound) {
		return FeatureSet{}, nil
	}
	if err != nil {
		return FeatureSet{}, err
	}

	grants, err := r.access.FeatureGrants(ctx, userID, app.ID)
	if err != nil {
		return FeatureSet{}, err
	}
	features := make(map[string]Capabilities, len(grants))
	for _, g := range grants {
		features[g.FeatureName] = features[g.FeatureName].Union(g.Capabilities)
	}
	return FeatureSet{Features: features}, nil
}
