/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/guided-traffic/glauth-k8s-operator/internal/charm"
	"github.com/guided-traffic/glauth-k8s-operator/internal/configs"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
	"github.com/guided-traffic/glauth-k8s-operator/internal/workload"
)

// hookTimeout bounds a single hook, including the wait for the mounted
// configuration to catch up
const hookTimeout = 5 * time.Minute

var scheme = runtime.NewScheme()

func init() {
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		panic(err)
	}
}

func main() {
	opts := zap.Options{}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts zap.Options) error {
	env, err := hookenv.NewEnvironment(os.Getenv)
	if err != nil {
		return err
	}
	runner := hookenv.ExecRunner{}
	hook := hookenv.NewContext(runner, env)

	logger := zap.New(zap.UseFlagOptions(&opts), zap.WriteTo(&hookenv.LogWriter{Context: hook}))
	ctrl.SetLogger(logger)
	logger = logger.WithValues("unit", env.UnitName, "hook", env.HookName)

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	ctx = log.IntoContext(ctx, logger)

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to load in-cluster config: %w", err)
	}
	k8sClient, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	container, err := workload.NewContainer(configs.WorkloadContainer)
	if err != nil {
		return err
	}

	c, err := charm.New(ctx, charm.Options{
		Hook:      hook,
		Client:    k8sClient,
		Container: container,
		FS:        afero.NewOsFs(),
		Runner:    runner,
	})
	if err != nil {
		return err
	}

	if err := c.Dispatch(ctx); err != nil {
		if logErr := hook.Log(ctx, hookenv.LogError, fmt.Sprintf("hook %s failed: %v", env.HookName, err)); logErr != nil {
			fmt.Fprintln(os.Stderr, logErr)
		}
		return err
	}
	return nil
}
