package modules

import (
	"context"
	"crypto/ecdsa"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"go.uber.org/fx"

	"github.com/rentstore/rentstore/build"
	"github.com/rentstore/rentstore/metrics"
	"github.com/rentstore/rentstore/node/modules/dtypes"
	"github.com/rentstore/rentstore/node/modules/helpers"
	"github.com/rentstore/rentstore/node/repo"
)

var log = logging.Logger("modules")

// MetricsContext tags every measurement recorded through it with the build
// version.
func MetricsContext() context.Context {
	ctx, err := tag.New(context.Background(), tag.Upsert(metrics.Version, build.BuildVersion))
	if err != nil {
		log.Warnw("tagging metrics context", "error", err)
		return context.Background()
	}
	stats.Record(ctx, metrics.Info.M(1))
	return ctx
}

func LockedRepo(lr repo.LockedRepo) func(lc fx.Lifecycle) repo.LockedRepo {
	return func(lc fx.Lifecycle) repo.LockedRepo {
		lc.Append(fx.Hook{
			OnStop: func(_ context.Context) error {
				return lr.Close()
			},
		})

		return lr
	}
}

func Datastore(mctx helpers.MetricsCtx, lc fx.Lifecycle, r repo.LockedRepo) (dtypes.MetadataDS, error) {
	ctx := helpers.LifecycleCtx(mctx, lc)
	mds, err := r.Datastore(ctx)
	if err != nil {
		return nil, err
	}

	return namespace.Wrap(mds, datastore.NewKey("/metadata")), nil
}

func Identity(r repo.LockedRepo) (*ecdsa.PrivateKey, error) {
	return r.Identity()
}
