package jobaccess

import (
	"context"
	"net/http"
	"time"

	"stylizer/internal/api"
	"stylizer/internal/apiclient"
	"stylizer/internal/jobstore"
)

// Access provides read-only job history regardless of daemon or store backing.
type Access interface {
	Stats(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, limit int) ([]api.Job, error)
	Describe(ctx context.Context, id string) (*api.Job, error)
	// Live reports whether answers come from a running daemon.
	Live() bool
}

// NewAPIAccess returns an Access backed by the daemon HTTP API.
func NewAPIAccess(client *apiclient.Client) Access {
	return &apiAccess{client: client}
}

// NewStoreAccess returns an Access backed by direct job database reads.
func NewStoreAccess(store *jobstore.Store) Access {
	return &storeAccess{store: store}
}

type apiAccess struct {
	client *apiclient.Client
}

func (a *apiAccess) Stats(ctx context.Context) (map[string]int, error) {
	status, err := a.client.Status(ctx)
	if err != nil {
		return nil, err
	}
	return status.JobCounts, nil
}

func (a *apiAccess) List(ctx context.Context, limit int) ([]api.Job, error) {
	return a.client.Jobs(ctx, limit)
}

func (a *apiAccess) Describe(ctx context.Context, id string) (*api.Job, error) {
	job, err := a.client.Job(ctx, id)
	if err != nil {
		if apiclient.StatusCode(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (a *apiAccess) Live() bool { return true }

type storeAccess struct {
	store *jobstore.Store
}

func (a *storeAccess) Stats(ctx context.Context) (map[string]int, error) {
	counts, err := a.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out, nil
}

func (a *storeAccess) List(ctx context.Context, limit int) ([]api.Job, error) {
	jobs, err := a.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	return api.FromJobs(jobs, time.Now()), nil
}

func (a *storeAccess) Describe(ctx context.Context, id string) (*api.Job, error) {
	job, err := a.store.Get(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	out := api.FromJob(*job, time.Now())
	return &out, nil
}

func (a *storeAccess) Live() bool { return false }
