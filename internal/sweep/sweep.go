// Package sweep implements the cache sweeper named in spec.md §6: an
// operational tool, not on the job path, that groups
// kozmic-cache/*:<project_id> images by project and deletes all but
// the CACHED_IMAGES_LIMIT most recently created per project.
// Grounded on kozmic/builds/commands.py's clean_dependencies_cache
// from original_source/ (spec.md §11 names it as a supplemented
// feature).
package sweep

import (
	"context"
	"fmt"
	"sort"

	"github.com/kozmic/kozmic/internal/docker"
)

// cachePrefix is the image namespace the Job Runner commits install
// caches into (spec.md §4.8, §6).
const cachePrefix = "kozmic-cache/"

// Run prunes every project's cache images down to limit, keeping the
// most recently created. It returns the ids it removed.
func Run(ctx context.Context, engine docker.Engine, limit int) ([]string, error) {
	images, err := engine.ListImages(ctx, cachePrefix)
	if err != nil {
		return nil, fmt.Errorf("sweep: listing cache images: %w", err)
	}

	byProject := map[string][]docker.ImageSummary{}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			project := projectFromTag(tag)
			if project == "" {
				continue
			}
			byProject[project] = append(byProject[project], img)
		}
	}

	var removed []string
	for _, imgs := range byProject {
		sort.Slice(imgs, func(i, j int) bool { return imgs[i].Created > imgs[j].Created })
		if len(imgs) <= limit {
			continue
		}
		for _, img := range imgs[limit:] {
			if err := engine.RemoveImage(ctx, img.ID); err != nil {
				return removed, fmt.Errorf("sweep: removing %s: %w", img.ID, err)
			}
			removed = append(removed, img.ID)
		}
	}
	return removed, nil
}

// projectFromTag extracts the <project_id> half of a
// kozmic-cache/<fingerprint>:<project_id> reference.
func projectFromTag(tag string) string {
	for i := len(tag) - 1; i >= 0; i-- {
		if tag[i] == ':' {
			return tag[i+1:]
		}
	}
	return ""
}
