package strategy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/models"
	"github.com/imyashkale/deployer/internal/shell"
	"github.com/imyashkale/deployer/internal/storage"
)

const (
	defaultBuildDir  = "dist"
	siteBuildTimeout = 15 * time.Minute
)

// Web builds a static site, uploads it to object storage and invalidates the
// CDN in front of it
type Web struct {
	root  string
	shell shell.Runner
	store ObjectStore
	cdn   CDN
}

// NewWeb creates the static site strategy
func NewWeb(deps Dependencies) *Web {
	return &Web{root: deps.Root, shell: deps.Shell, store: deps.Store, cdn: deps.CDN}
}

// Deploy builds and uploads the site. When fewer than MinFiles objects were
// written the deployment fails, although the upload is not undone.
func (w *Web) Deploy(ctx context.Context, req Request, s *models.WebSettings) (*models.DeploymentResult, error) {
	res := &models.DeploymentResult{Type: models.TypeWeb, Revision: req.Revision}
	workDir := resolve(w.root, s.WorkDir)
	buildDir := resolve(workDir, orDefault(s.BuildDir, defaultBuildDir))
	bucket := orDefault(s.Bucket, req.Target.Storage.Bucket)
	log := entry(req).WithFields(map[string]interface{}{
		"bucket":    bucket,
		"build_dir": buildDir,
	})

	if err := req.Hooks.Run(ctx, models.PreBuild); err != nil {
		return res, err
	}
	if s.BuildCommand != "" {
		if req.DryRun {
			log.WithField("command", s.BuildCommand).Info("Dry run: skipping site build")
		} else if err := runCommand(ctx, w.shell, workDir, s.BuildCommand, siteBuildTimeout); err != nil {
			return res, deployerr.Build("build site", err)
		}
	}
	if err := req.Hooks.Run(ctx, models.PostBuild); err != nil {
		return res, err
	}

	if err := req.Hooks.Run(ctx, models.PreDeploy); err != nil {
		return res, err
	}

	if req.DryRun {
		log.Info("Dry run: skipping upload and invalidation")
		return res, req.Hooks.Run(ctx, models.PostDeploy)
	}

	if bucket == "" {
		return res, deployerr.Configuration("deploy site", fmt.Errorf("no bucket configured"))
	}
	if err := w.store.EnsureBucket(ctx, bucket); err != nil {
		return res, deployerr.Deployment("ensure bucket", err)
	}

	count, err := w.upload(ctx, buildDir, bucket, s)
	res.DeployedFiles = count
	if err != nil {
		return res, deployerr.Deployment("upload site", err)
	}
	log.WithField("files", count).Info("Site uploaded")

	if s.DistributionID != "" {
		if w.cdn == nil {
			return res, deployerr.Configuration("invalidate cache", fmt.Errorf("no CDN client configured"))
		}
		id, err := w.cdn.CreateInvalidation(ctx, s.DistributionID, s.InvalidationPaths)
		if err != nil {
			return res, deployerr.Deployment("invalidate cache", err)
		}
		res.InvalidationID = id
		log.WithField("invalidation_id", id).Info("CDN invalidation created")
	}

	if s.MinFiles > 0 && count < s.MinFiles {
		return res, deployerr.Verification("verify upload",
			fmt.Errorf("%d files deployed to %s, expected at least %d", count, bucket, s.MinFiles))
	}

	if err := req.Hooks.Run(ctx, models.PostDeploy); err != nil {
		return res, err
	}
	return res, nil
}

// upload writes every file below dir and returns how many were written
func (w *Web) upload(ctx context.Context, dir, bucket string, s *models.WebSettings) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		body, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		err = w.store.PutObject(ctx, storage.Object{
			Bucket:       bucket,
			Key:          path.Join(s.Prefix, filepath.ToSlash(rel)),
			Body:         body,
			CacheControl: s.CacheControl,
		})
		if err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}
