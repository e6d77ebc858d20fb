// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwupdate

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/machinebox/progress"
	"github.com/spf13/afero"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/restart"
	pgperrors "golang.org/x/crypto/openpgp/errors"
	"golang.org/x/crypto/openpgp/packet"
	"gopkg.in/yaml.v3"
)

const stateFile = "state.yaml"

var ErrFinalized = errors.New("update session already finalized")

type bootState struct {
	// False between staging an image and its first successful self-test.
	Confirmed bool   `yaml:"confirmed"`
	Digest    string `yaml:"digest,omitempty"`
	Tag       string `yaml:"tag,omitempty"`
}

// Store keeps the boot state and the staged image slot in a directory and
// takes candidate images, signed with a detached OpenPGP signature, from the
// primary chip's external flash.
type Store struct {
	// Used when CheckAndApply is asked to restart on its own.
	Restarter restart.Restarter

	fs   afero.Fs
	conf config.FirmwareUpdate
	key  *packet.PublicKey

	mu    sync.Mutex
	state bootState
	done  bool
}

var _ Updater = (*Store)(nil)

// Open initializes the update subsystem. A missing state file means the
// running image predates update support and counts as confirmed.
func Open(fs afero.Fs, conf config.FirmwareUpdate) (*Store, error) {
	if err := fs.MkdirAll(conf.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", conf.StateDir, err)
	}
	kf, err := fs.Open(conf.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("open public key: %w", err)
	}
	defer kf.Close()
	key, err := readPublicSigningKey(kf)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", conf.PublicKey, err)
	}

	s := &Store{fs: fs, conf: conf, key: key, state: bootState{Confirmed: true}}
	b, err := afero.ReadFile(fs, s.path(stateFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(b, &s.state); err != nil {
			return nil, fmt.Errorf("parse boot state: %w", err)
		}
	}
	return s, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.conf.StateDir, name)
}

func (s *Store) IsConfirmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Confirmed
}

func (s *Store) Confirm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Confirmed {
		return nil
	}
	s.state.Confirmed = true
	return s.save()
}

// save writes the boot state through a temporary file so a power cut never
// leaves a truncated state behind. Callers hold mu.
func (s *Store) save() error {
	b, err := yaml.Marshal(&s.state)
	if err != nil {
		return err
	}
	tmp := s.path(stateFile + ".new")
	if err := afero.WriteFile(s.fs, tmp, b, 0644); err != nil {
		return err
	}
	return s.fs.Rename(tmp, s.path(stateFile))
}

func (s *Store) CheckAndApply(ctx context.Context, autoRestart bool) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return NotNeeded, ErrFinalized
	}

	img, err := s.fs.Open(s.conf.Source)
	if errors.Is(err, os.ErrNotExist) {
		return NotNeeded, nil
	}
	if err != nil {
		return NotNeeded, err
	}
	defer img.Close()
	sig, err := s.fs.Open(s.conf.Source + ".gpg")
	if err != nil {
		return NotNeeded, fmt.Errorf("open signature: %w", err)
	}
	defer sig.Close()

	digest, err := verifyDetachedSignature(ctx, img, sig, s.key)
	if err != nil {
		return NotNeeded, fmt.Errorf("verify %s: %w", s.conf.Source, err)
	}
	if digest == s.state.Digest {
		return NotNeeded, nil
	}

	if _, err := img.Seek(0, io.SeekStart); err != nil {
		return NotNeeded, err
	}
	slot := s.path(s.conf.Tag + ".img")
	if err := s.stage(img, slot); err != nil {
		return NotNeeded, fmt.Errorf("stage %s: %w", slot, err)
	}
	s.state = bootState{Confirmed: false, Digest: digest, Tag: s.conf.Tag}
	if err := s.save(); err != nil {
		return NotNeeded, fmt.Errorf("save boot state: %w", err)
	}
	log.Infof("Staged firmware image %s (sha256 %s)", s.conf.Tag, digest)

	if autoRestart && s.Restarter != nil {
		s.Restarter.ColdRestart(restart.ReasonUpdate)
	}
	return Applied, nil
}

func (s *Store) stage(r io.Reader, slot string) error {
	tmp := slot + ".new"
	f, err := s.fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return s.fs.Rename(tmp, slot)
}

// Finalize persists the boot state and closes the session.
func (s *Store) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	return s.save()
}

func readPublicSigningKey(keyf io.Reader) (*packet.PublicKey, error) {
	p, err := packet.NewReader(keyf).Next()
	if err != nil {
		return nil, err
	}
	if pkt, ok := p.(*packet.PublicKey); ok {
		return pkt, nil
	}
	log.Warnf("ReadPublicSigningKey: got %T, want *packet.PublicKey", p)
	return nil, pgperrors.StructuralError("expected first packet to be PublicKey")
}

// verifyDetachedSignature checks content against the signature packet in
// sigf and returns the hex SHA-256 of content.
func verifyDetachedSignature(ctx context.Context, content afero.File, sigf io.Reader, key *packet.PublicKey) (string, error) {
	var hashFunc crypto.Hash

	p, err := packet.NewReader(sigf).Next()
	if err != nil {
		return "", fmt.Errorf("reading signature file: %w", err)
	}
	switch sig := p.(type) {
	case *packet.Signature:
		hashFunc = sig.Hash
	case *packet.SignatureV3:
		hashFunc = sig.Hash
	default:
		return "", pgperrors.UnsupportedError("unrecognized signature")
	}
	if !hashFunc.Available() {
		return "", pgperrors.UnsupportedError(fmt.Sprintf("hash %v", hashFunc))
	}

	size, err := content.Seek(0, io.SeekEnd)
	if err != nil {
		return "", fmt.Errorf("seek end: %w", err)
	}
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("seek start: %w", err)
	}

	r := progress.NewReader(content)
	tctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func(name string) {
		defer close(done)
		for p := range progress.NewTicker(tctx, r, size, 200*time.Millisecond) {
			log.Debugf("Verifying %s integrity: %d %%", name, int(p.Percent()))
		}
	}(content.Name())

	h := hashFunc.New()
	d := sha256.New()
	_, err = io.Copy(io.MultiWriter(h, d), r)
	cancel()
	<-done
	if err != nil {
		return "", err
	}
	switch sig := p.(type) {
	case *packet.Signature:
		err = key.VerifySignature(h, sig)
	case *packet.SignatureV3:
		err = key.VerifySignatureV3(h, sig)
	}
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}
