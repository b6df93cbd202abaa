// Package bootstrap turns the process environment into a running
// etlsrv.Server. It replaces the original's pickle-based
// ETL_CLASS_PAYLOAD deserialization with a static lookup: the payload
// decodes to {kind, config}, kind is looked up in registry.Table, and
// an unrecognized kind is rejected outright rather than executed — the
// payload can no longer name arbitrary code.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package bootstrap

import (
	"encoding/base64"
	"os"
	"os/exec"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/NVIDIA/ais-etl-go/client"
	"github.com/NVIDIA/ais-etl-go/internal/debug"
	"github.com/NVIDIA/ais-etl-go/internal/etlenv"
	"github.com/NVIDIA/ais-etl-go/internal/nlog"
	"github.com/NVIDIA/ais-etl-go/etlsrv"
	"github.com/NVIDIA/ais-etl-go/registry"
)

// Exit codes, a deploy-time contract with the image entrypoint: every
// non-zero value here is distinct so a failed pod's exit code alone
// tells the operator which stage failed.
const (
	ExitBadPayload     = 1
	ExitPackageInstall = 2
	ExitUnsafePayload  = 3
	ExitBadConfig      = 4
)

// Payload is the decoded shape of ETL_CLASS_PAYLOAD: a stable kind
// naming one compiled-in transform, plus its opaque registration
// config.
type Payload struct {
	Kind   string              `json:"kind"`
	Config jsoniter.RawMessage `json:"config"`
}

func decodePayload(raw string) (Payload, error) {
	var p Payload
	if raw == "" {
		return p, errors.New("ETL_CLASS_PAYLOAD not set")
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return p, errors.Wrap(err, "ETL_CLASS_PAYLOAD is not valid base64")
	}
	if err := jsoniter.Unmarshal(decoded, &p); err != nil {
		return p, errors.Wrap(err, "ETL_CLASS_PAYLOAD is not valid JSON")
	}
	if p.Kind == "" {
		return p, errors.New(`ETL_CLASS_PAYLOAD missing "kind"`)
	}
	return p, nil
}

// installOSPackages shells out to the image's package manager for the
// OS_PACKAGES the deployment declared. A compiled Go transform has no
// language-level package manager of its own, so PACKAGES is logged and
// otherwise ignored rather than faked.
func installOSPackages(pkgs []string) error {
	if len(pkgs) == 0 {
		return nil
	}
	args := append([]string{"install", "-y"}, pkgs...)
	cmd := exec.Command("apt-get", args...)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "apt-get install -y %s", strings.Join(pkgs, " "))
	}
	return nil
}

// Run reads the process environment, builds the registered Transform,
// and returns a ready-to-serve Server. It calls os.Exit directly on
// every named failure mode, since by that point there is nothing left
// for main to decide.
func Run(variant etlsrv.Variant, fqnAllowedPrefix string) *etlsrv.Server {
	raw := etlenv.Load()

	if len(raw.Packages) > 0 {
		nlog.Warningf("PACKAGES=%s declared but a compiled transform has no runtime package manager; ignoring\n", strings.Join(raw.Packages, ","))
	}
	if err := installOSPackages(raw.OSPackages); err != nil {
		nlog.Errorf("bootstrap: OS_PACKAGES install failed: %v\n", err)
		os.Exit(ExitPackageInstall)
	}

	payload, err := decodePayload(raw.ClassPayload)
	if err != nil {
		nlog.Errorf("bootstrap: %v\n", err)
		os.Exit(ExitBadPayload)
	}

	factory, ok := registry.Lookup(payload.Kind)
	if !ok {
		nlog.Errorf("bootstrap: UNSAFE_PAYLOAD: unrecognized transform kind %q\n", payload.Kind)
		os.Exit(ExitUnsafePayload)
	}

	cfg, err := etlsrv.ConfigFromEnv(variant, fqnAllowedPrefix)
	if err != nil {
		nlog.Errorf("bootstrap: %v\n", err)
		os.Exit(ExitBadConfig)
	}

	cl := client.New(cfg.AISEndpoint, nil)
	tf, err := factory([]byte(payload.Config), cl)
	if err != nil {
		nlog.Errorf("bootstrap: transform %q rejected its config: %v\n", payload.Kind, err)
		os.Exit(ExitBadPayload)
	}
	debug.Assertf(tf != nil, "factory for kind=%q returned a nil Transform with a nil error", payload.Kind)

	nlog.Infof("bootstrap: loaded transform kind=%q variant=%s\n", payload.Kind, variant)
	return etlsrv.New(cfg, tf)
}
