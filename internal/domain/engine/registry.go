// Package engine manages the active game engine build. Exactly one engine is
// active at a time; setting a new one downloads its artifacts, stages them on
// the job runner, and persists enough state to survive a restart.
package engine

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acm-cmu/awap-matchmaking/internal/domain"
	"github.com/acm-cmu/awap-matchmaking/internal/tango"
	"github.com/acm-cmu/awap-matchmaking/pkg/apperr"
	"github.com/acm-cmu/awap-matchmaking/pkg/logger"
)

// MakefileTangoName is the runner-side name of the staged build file. The
// runner treats it as the autograder makefile of the work area.
const MakefileTangoName = "autograde-Makefile"

// PersistFilename records the active engine across restarts.
const PersistFilename = "engine-persistent.json"

// Uploader stages local files on the job runner.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, tangoName, vmName string) (tango.FileHandle, error)
}

// Snapshot is an immutable view of the active engine taken at batch start.
// Matches scheduled from one snapshot all run against the same build even if
// the engine is swapped mid-batch.
type Snapshot struct {
	Engine     domain.Engine
	EngineFile tango.FileHandle
	Makefile   tango.FileHandle
}

// ChooseMap draws a random map from the pool for the given match kind.
func (s Snapshot) ChooseMap(kind domain.MatchKind) (string, error) {
	var pool []string
	switch kind {
	case domain.KindUnranked:
		pool = s.Engine.MapChoice.UnrankedPossibleMaps
	case domain.KindRanked:
		pool = s.Engine.MapChoice.RankedPossibleMaps
	default:
		return "", apperr.Validation("no random map pool for match kind %q", kind)
	}
	if len(pool) == 0 {
		return "", apperr.Validation("engine %q has no maps for %s matches",
			s.Engine.GameEngineName, kind)
	}
	return pool[rand.Intn(len(pool))], nil
}

type persisted struct {
	EnginePath    string        `json:"engine_path"`
	MakefilePath  string        `json:"makefile_path"`
	EngineDetails domain.Engine `json:"engine_details"`
}

// Registry holds the active engine. Safe for concurrent use; readers take a
// snapshot and never observe a half-applied swap.
type Registry struct {
	uploader Uploader
	tempDir  string
	http     *http.Client
	log      *logger.Logger

	mu         sync.RWMutex
	active     *domain.Engine
	engineFile tango.FileHandle
	makefile   tango.FileHandle
}

// NewRegistry builds an empty registry staging files under tempDir.
func NewRegistry(uploader Uploader, tempDir string, log *logger.Logger) *Registry {
	return &Registry{
		uploader: uploader,
		tempDir:  tempDir,
		http:     &http.Client{Timeout: 2 * time.Minute},
		log:      log.Named("engine"),
	}
}

// Snapshot returns the active engine and its staged file handles.
func (r *Registry) Snapshot() (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return Snapshot{}, apperr.EngineMissing("no game engine has been set")
	}
	return Snapshot{Engine: *r.active, EngineFile: r.engineFile, Makefile: r.makefile}, nil
}

// Set downloads the engine's artifacts, stages them on the runner, persists
// the selection, and swaps it in. Matches already in flight keep the
// snapshot they started with.
func (r *Registry) Set(ctx context.Context, eng domain.Engine) error {
	if eng.GameEngineName == "" || eng.EngineFilename == "" || eng.MakefileFilename == "" {
		return apperr.Validation("engine name, engine filename and makefile filename are required")
	}
	if eng.NumPlayers < 2 {
		return apperr.Validation("engine must support at least 2 players")
	}
	if err := eng.MapChoice.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(r.tempDir, 0o755); err != nil {
		return apperr.IO("could not create engine staging dir").WithErr(err)
	}

	enginePath := filepath.Join(r.tempDir, eng.EngineFilename)
	if err := r.download(ctx, eng.EngineDownloadURL, enginePath); err != nil {
		return err
	}
	makefilePath := filepath.Join(r.tempDir, eng.MakefileFilename)
	if err := r.download(ctx, eng.MakefileDownloadURL, makefilePath); err != nil {
		return err
	}

	if err := r.stage(ctx, eng, enginePath, makefilePath); err != nil {
		return err
	}

	// Persist only once the runner has the files, so a restart never
	// reactivates an engine that failed to stage.
	return r.persist(persisted{
		EnginePath:    enginePath,
		MakefilePath:  makefilePath,
		EngineDetails: eng,
	})
}

// Reload re-stages the persisted engine on the runner. Used at startup and
// after the runner loses its uploaded files.
func (r *Registry) Reload(ctx context.Context) error {
	raw, err := os.ReadFile(filepath.Join(r.tempDir, PersistFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return apperr.EngineMissing("no persisted game engine to reload")
		}
		return apperr.IO("could not read persisted engine state").WithErr(err)
	}

	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperr.IO("corrupt persisted engine state").WithErr(err)
	}
	return r.stage(ctx, p.EngineDetails, p.EnginePath, p.MakefilePath)
}

func (r *Registry) stage(ctx context.Context, eng domain.Engine, enginePath, makefilePath string) error {
	engineFile, err := r.uploader.UploadFile(ctx, enginePath, eng.EngineFilename, eng.EngineFilename)
	if err != nil {
		return err
	}
	makefile, err := r.uploader.UploadFile(ctx, makefilePath, MakefileTangoName, "Makefile")
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.active = &eng
	r.engineFile = engineFile
	r.makefile = makefile
	r.mu.Unlock()

	r.log.Info("game engine staged",
		zap.String("engine", eng.GameEngineName),
		zap.Int("num_players", eng.NumPlayers),
	)
	return nil
}

func (r *Registry) persist(p persisted) error {
	body, err := json.Marshal(p)
	if err != nil {
		return apperr.IO("could not encode persisted engine state").WithErr(err)
	}
	path := filepath.Join(r.tempDir, PersistFilename)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return apperr.IO("could not write persisted engine state").WithErr(err)
	}
	return nil
}

func (r *Registry) download(ctx context.Context, url, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperr.Transport("could not build download request for %q", url).WithErr(err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return apperr.Transport("could not download engine artifact %q", url).WithErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.Transport("engine artifact %q returned status %d", url, resp.StatusCode)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return apperr.IO("could not create %q", localPath).WithErr(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return apperr.IO("could not write %q", localPath).WithErr(err)
	}
	return nil
}
