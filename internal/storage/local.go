package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rowjay/site-backup/internal/batch"
	"github.com/rowjay/site-backup/internal/config"
)

type Local struct {
	Dir string
}

func NewLocal(dir string) *Local {
	return &Local{Dir: dir}
}

// List returns the archives in the directory, newest first. A missing
// directory holds no archives.
func (l *Local) List(ctx context.Context) ([]Archive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Archive{}, nil
		}
		return nil, err
	}
	archives := []Archive{}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		comp, enc, ok := ParseName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, Archive{
			Name:        e.Name(),
			Path:        filepath.Join(l.Dir, e.Name()),
			Size:        info.Size(),
			Modified:    info.ModTime(),
			Compression: comp,
			Encryption:  enc,
			Generated:   IsGenerated(e.Name()),
		})
	}
	sort.SliceStable(archives, func(i, j int) bool {
		if archives[i].Modified.Equal(archives[j].Modified) {
			return archives[i].Name > archives[j].Name
		}
		return archives[i].Modified.After(archives[j].Modified)
	})
	return archives, nil
}

// Expired selects the archives the policy no longer protects. An archive is
// kept while it is among the KeepLast newest or younger than KeepDays; a
// policy with both limits unset keeps everything.
func Expired(archives []Archive, policy config.Retention, now time.Time) []Archive {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return nil
	}
	cutoff := now.AddDate(0, 0, -policy.KeepDays)
	var out []Archive
	for i, a := range archives {
		if policy.KeepLast > 0 && i < policy.KeepLast {
			continue
		}
		if policy.KeepDays > 0 && !a.Modified.Before(cutoff) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Prune deletes the archives Expired selects among those with a generated
// name. Archives named by the operator, and anything else in the directory,
// are left alone. A failed delete is recorded and the rest continue.
func (l *Local) Prune(ctx context.Context, policy config.Retention, now time.Time) (batch.Result[string], error) {
	var res batch.Result[string]
	archives, err := l.List(ctx)
	if err != nil {
		return res, err
	}
	owned := archives[:0:0]
	for _, a := range archives {
		if a.Generated {
			owned = append(owned, a)
		}
	}
	for _, a := range Expired(owned, policy, now) {
		if err := os.Remove(a.Path); err != nil {
			res.Fail(a.Name, err)
			continue
		}
		res.Succeed(a.Name)
	}
	return res, nil
}
