/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package images loads the pools of pictures the games draw from. Each
// source publishes a JSON listing of {url, filename} entries; relative
// URLs are rewritten against a fixed base and the source's directory.
package images

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL = "https://future801113.github.io/i-love-col/"

	// Mixed selects every configured source.
	Mixed = "mixed"
)

var (
	ErrUnknownSource = errors.New("unknown image source")
	ErrNoImages      = errors.New("no images available")
)

// Descriptor identifies one picture.
type Descriptor struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Source is a named JSON listing. Path is resolved against the base URL
// unless it is absolute; Subdir is where the listed files live.
type Source struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Subdir string `yaml:"subdir"`
}

func DefaultSources() []Source {
	return []Source{
		{Name: "ice_deliverer", Path: "images/images.json", Subdir: "images"},
		{Name: "colne_icol", Path: "colne_icol_images/images.json", Subdir: "colne_icol_images"},
	}
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources reads a YAML file of the form
//
//	sources:
//	  - name: ice_deliverer
//	    path: images/images.json
//	    subdir: images
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := validateSources(f.Sources); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return f.Sources, nil
}

func validateSources(sources []Source) error {
	if len(sources) == 0 {
		return errors.New("no image sources defined")
	}

	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		switch {
		case s.Name == "":
			return errors.New("image source with empty name")
		case s.Name == Mixed:
			return fmt.Errorf("image source name %q is reserved", Mixed)
		case s.Path == "":
			return fmt.Errorf("image source %q has no path", s.Name)
		case seen[s.Name]:
			return fmt.Errorf("duplicate image source %q", s.Name)
		}
		seen[s.Name] = true
	}

	return nil
}

// Pool is the result of a fetch. Warnings holds per-source failures;
// they are not fatal, and Images may still be usable.
type Pool struct {
	Images   []Descriptor
	Warnings []error
}

type Provider struct {
	base    string
	sources []Source
	client  *http.Client
	log     *slog.Logger
}

func NewProvider(base string, sources []Source, client *http.Client, log *slog.Logger) (*Provider, error) {
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid image base URL: %w", err)
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	if err := validateSources(sources); err != nil {
		return nil, err
	}

	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Provider{
		base:    base,
		sources: sources,
		client:  client,
		log:     log,
	}, nil
}

// Names returns the configured source names in order.
func (p *Provider) Names() []string {
	names := make([]string, len(p.sources))
	for i, s := range p.sources {
		names[i] = s.Name
	}

	return names
}

func (p *Provider) lookup(selection string) ([]Source, error) {
	if selection == "" || selection == Mixed {
		return p.sources, nil
	}

	for _, s := range p.sources {
		if s.Name == selection {
			return []Source{s}, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, selection)
}

// Fetch loads every source named by selection ("mixed" or a single
// source name) and returns the combined pool, deduplicated by URL.
func (p *Provider) Fetch(ctx context.Context, selection string) (Pool, error) {
	sources, err := p.lookup(selection)
	if err != nil {
		return Pool{}, err
	}

	var pool Pool
	seen := make(map[string]bool)

	for _, src := range sources {
		list, err := p.fetchSource(ctx, src)
		if err != nil {
			p.log.Warn("image source unavailable", "source", src.Name, "err", err)
			pool.Warnings = append(pool.Warnings, fmt.Errorf("%s: %w", src.Name, err))
			continue
		}

		for _, d := range list {
			if d.URL == "" || seen[d.URL] {
				continue
			}
			seen[d.URL] = true
			pool.Images = append(pool.Images, d)
		}
	}

	p.log.Debug("loaded image pool", "selection", selection, "images", len(pool.Images))

	return pool, nil
}

func (p *Provider) fetchSource(ctx context.Context, src Source) ([]Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.resolve(src.Path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var list []Descriptor
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	for i := range list {
		list[i].URL = p.imageURL(list[i].URL, src)
	}

	return list, nil
}

func (p *Provider) resolve(path string) string {
	if isAbsolute(path) {
		return path
	}

	return p.base + strings.TrimPrefix(path, "/")
}

// imageURL keeps absolute URLs and places anything else, by file name
// only, under the source's directory.
func (p *Provider) imageURL(raw string, src Source) string {
	if raw == "" || isAbsolute(raw) {
		return raw
	}

	name := raw[strings.LastIndex(raw, "/")+1:]
	if src.Subdir == "" {
		return p.base + name
	}

	return p.base + strings.Trim(src.Subdir, "/") + "/" + name
}

// ResolveImage turns a user-supplied image reference into a full URL:
// "./a.jpg", "/a.jpg" and "a.jpg" all resolve under the base.
func (p *Provider) ResolveImage(raw string) string {
	if raw == "" || isAbsolute(raw) {
		return raw
	}

	switch {
	case strings.HasPrefix(raw, "./"):
		raw = raw[2:]
	case strings.HasPrefix(raw, "/"):
		raw = raw[1:]
	}

	return p.base + raw
}

// Random picks one source at random and then one image from it.
func (p *Provider) Random(ctx context.Context, rng *rand.Rand) (Descriptor, error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	src := p.sources[rng.IntN(len(p.sources))]

	pool, err := p.Fetch(ctx, src.Name)
	if err != nil {
		return Descriptor{}, err
	}
	if len(pool.Images) == 0 {
		return Descriptor{}, errors.Join(append([]error{ErrNoImages}, pool.Warnings...)...)
	}

	return pool.Images[rng.IntN(len(pool.Images))], nil
}

func isAbsolute(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
