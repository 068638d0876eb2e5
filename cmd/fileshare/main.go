// Copyright 2013 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package contains the main entry point of the fileshare CLI.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/odeke-em/command"
	logpkg "github.com/odeke-em/log"

	"github.com/fileshare-client/fileshare/config"
	"github.com/fileshare-client/fileshare/fileshare"
)

var logger = logpkg.New(os.Stdin, os.Stdout, os.Stderr)

func exitWithError(err error) {
	if err == nil {
		return
	}
	code := 1
	if fsErr, ok := err.(*fileshare.Error); ok {
		code = int(fsErr.Code) + 1
	}
	logger.LogErrf("%s\n", err.Error())
	os.Exit(code)
}

func contextPath() string {
	p, _ := os.Getwd()
	return p
}

func promptPassword(username string) (string, error) {
	if username != "" {
		logger.Logf("password for %s: ", username)
	} else {
		logger.Logf("password: ")
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func openContext() *config.Context {
	ctx, err := config.Discover(contextPath())
	exitWithError(err)
	return ctx
}

func openRepository(ctx *config.Context) *fileshare.Repository {
	store := fileshare.NewHTTPRemoteStore(http.DefaultClient, ctx.OriginURL, remoteBaseURL(ctx), "fileshare-cli", ctx.AuthToken, promptPassword)
	repo, err := fileshare.NewRepository(ctx, store, logger)
	exitWithError(err)
	return repo
}

func remoteBaseURL(ctx *config.Context) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(ctx.OriginURL, "/"), ctx.User, ctx.Repo)
}

func printConflicts(reported *[]fileshare.Action) func(fileshare.Action) {
	return func(a fileshare.Action) {
		*reported = append(*reported, a)
		logger.Logf("%s %s %s\n", a.Kind.Glyph(), a.Kind, a.Path)
	}
}

func runSelection(ctx *config.Context, kinds map[fileshare.Kind]bool, encryptPassword, decryptPassword string, rateLimitKBps int) {
	repo := openRepository(ctx)
	actions, err := repo.Diff()
	exitWithError(err)

	var selected []fileshare.Action
	for _, a := range actions {
		if a.Kind.IsConflict() || kinds[a.Kind] {
			selected = append(selected, a)
		}
	}

	opts := []fileshare.ExecOption{fileshare.WithProgress(fileshare.StdoutIsTTY())}
	if encryptPassword != "" {
		opts = append(opts, fileshare.WithEncryptPassword([]byte(encryptPassword)))
	}
	if decryptPassword != "" {
		opts = append(opts, fileshare.WithDecryptPassword([]byte(decryptPassword)))
	}
	if rateLimitKBps > 0 {
		bps := int64(rateLimitKBps) * 1024
		opts = append(opts, fileshare.WithRateLimit(bps, bps))
	}

	var conflicts []fileshare.Action
	err = repo.ApplyActions(selected, printConflicts(&conflicts), opts...)
	closeErr := repo.Close()
	exitWithError(err)
	exitWithError(closeErr)
}

var pushKinds = map[fileshare.Kind]bool{
	fileshare.ResyncLocal: true, fileshare.LocalUpgraded: true, fileshare.LocalAdded: true,
	fileshare.LocalRemoved: true, fileshare.RemovedOnBothSides: true, fileshare.ErrorLocalDowngraded: true,
}

var pullKinds = map[fileshare.Kind]bool{
	fileshare.ResyncLocal: true, fileshare.RemoteUpgraded: true, fileshare.RemoteAdded: true,
	fileshare.RemoteRemoved: true, fileshare.RemovedOnBothSides: true, fileshare.ErrorRemoteDowngraded: true,
}

var syncKinds = map[fileshare.Kind]bool{
	fileshare.ResyncLocal: true, fileshare.LocalUpgraded: true, fileshare.RemoteUpgraded: true,
	fileshare.LocalAdded: true, fileshare.RemoteAdded: true, fileshare.LocalRemoved: true,
	fileshare.RemoteRemoved: true, fileshare.RemovedOnBothSides: true,
}

type initCmd struct{}

func (cmd *initCmd) Flags(fs *flag.FlagSet) *flag.FlagSet { return fs }

func (cmd *initCmd) Run(args []string, definedFlags map[string]*flag.Flag) {
	_, _, err := config.Initialize(contextPath())
	exitWithError(err)
}

type cloneCmd struct{}

func (cmd *cloneCmd) Flags(fs *flag.FlagSet) *flag.FlagSet { return fs }

func (cmd *cloneCmd) Run(args []string, definedFlags map[string]*flag.Flag) {
	if len(args) == 0 {
		exitWithError(fmt.Errorf("clone requires a repository URL"))
	}
	user, repo, origin, err := parseRepositoryURL(args[0])
	exitWithError(err)

	dir := repo
	exitWithError(os.MkdirAll(dir, 0755))
	exitWithError(os.Chdir(dir))

	ctx, _, err := config.Initialize(contextPath())
	exitWithError(err)
	ctx.OriginURL = origin
	ctx.User = user
	ctx.Repo = repo
	exitWithError(ctx.Write())

	runSelection(ctx, pullKinds, "", "", 0)
}

// parseRepositoryURL splits a "<scheme>://<host>/<user>/<repo>" URL into
// its origin, user and repo components, per original_source/src/actions/
// clone.rs's path-segment parsing.
func parseRepositoryURL(raw string) (user, repo, origin string, err error) {
	schemeIdx := strings.Index(raw, "://")
	if schemeIdx < 0 {
		return "", "", "", fmt.Errorf("clone: %q is not a valid repository URL", raw)
	}
	rest := raw[schemeIdx+3:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return "", "", "", fmt.Errorf("clone: %q is missing a /user/repo path", raw)
	}
	host := rest[:slash]
	parts := strings.Split(strings.Trim(rest[slash:], "/"), "/")
	if len(parts) != 2 {
		return "", "", "", fmt.Errorf("clone: expected /user/repo in %q", raw)
	}
	origin = raw[:schemeIdx+3] + host
	return parts[0], parts[1], origin, nil
}

type statusCmd struct{}

func (cmd *statusCmd) Flags(fs *flag.FlagSet) *flag.FlagSet { return fs }

func (cmd *statusCmd) Run(args []string, definedFlags map[string]*flag.Flag) {
	ctx := openContext()
	repo := openRepository(ctx)
	actions, err := repo.Diff()
	exitWithError(err)
	for _, a := range actions {
		logger.Logf("%s %s %s\n", a.Kind.Glyph(), a.Kind, a.Path)
	}
	exitWithError(repo.Close())
}

type pushCmd struct {
	EncryptPassword *string
	RateLimit       *int
}

func (cmd *pushCmd) Flags(fs *flag.FlagSet) *flag.FlagSet {
	cmd.EncryptPassword = fs.String("encrypt-password", "", "encrypt file content with this password before uploading")
	cmd.RateLimit = fs.Int("rate-limit", 0, "caps upload throughput in KiB/s; 0 means unlimited")
	return fs
}

func (cmd *pushCmd) Run(args []string, definedFlags map[string]*flag.Flag) {
	runSelection(openContext(), pushKinds, *cmd.EncryptPassword, "", *cmd.RateLimit)
}

type pullCmd struct {
	DecryptPassword *string
	RateLimit       *int
}

func (cmd *pullCmd) Flags(fs *flag.FlagSet) *flag.FlagSet {
	cmd.DecryptPassword = fs.String("decrypt-password", "", "decrypt downloaded file content with this password")
	cmd.RateLimit = fs.Int("rate-limit", 0, "caps download throughput in KiB/s; 0 means unlimited")
	return fs
}

func (cmd *pullCmd) Run(args []string, definedFlags map[string]*flag.Flag) {
	runSelection(openContext(), pullKinds, "", *cmd.DecryptPassword, *cmd.RateLimit)
}

type syncCmd struct {
	EncryptPassword *string
	DecryptPassword *string
	RateLimit       *int
}

func (cmd *syncCmd) Flags(fs *flag.FlagSet) *flag.FlagSet {
	cmd.EncryptPassword = fs.String("encrypt-password", "", "encrypt file content with this password before uploading")
	cmd.DecryptPassword = fs.String("decrypt-password", "", "decrypt downloaded file content with this password")
	cmd.RateLimit = fs.Int("rate-limit", 0, "caps upload/download throughput in KiB/s; 0 means unlimited")
	return fs
}

func (cmd *syncCmd) Run(args []string, definedFlags map[string]*flag.Flag) {
	runSelection(openContext(), syncKinds, *cmd.EncryptPassword, *cmd.DecryptPassword, *cmd.RateLimit)
}

type loginCmd struct{}

func (cmd *loginCmd) Flags(fs *flag.FlagSet) *flag.FlagSet { return fs }

func (cmd *loginCmd) Run(args []string, definedFlags map[string]*flag.Flag) {
	ctx := openContext()
	username := ""
	if len(args) > 0 {
		username = args[0]
	}
	store := fileshare.NewHTTPRemoteStore(http.DefaultClient, ctx.OriginURL, remoteBaseURL(ctx), "fileshare-cli", "", promptPassword)
	token, expiration, err := store.Authenticate(username)
	exitWithError(err)
	ctx.AuthToken = token
	ctx.AuthExpiration = expiration
	exitWithError(ctx.Write())
}

type logoutCmd struct{}

func (cmd *logoutCmd) Flags(fs *flag.FlagSet) *flag.FlagSet { return fs }

func (cmd *logoutCmd) Run(args []string, definedFlags map[string]*flag.Flag) {
	ctx := openContext()
	store := fileshare.NewHTTPRemoteStore(http.DefaultClient, ctx.OriginURL, remoteBaseURL(ctx), "fileshare-cli", ctx.AuthToken, promptPassword)
	exitWithError(store.DeleteAuthToken(ctx.AuthToken))
	ctx.AuthToken = ""
	ctx.AuthExpiration = 0
	exitWithError(ctx.Write())
}

type editorCmd struct{}

func (cmd *editorCmd) Flags(fs *flag.FlagSet) *flag.FlagSet { return fs }

func (cmd *editorCmd) Run(args []string, definedFlags map[string]*flag.Flag) {
	ctx := openContext()
	if len(args) >= 2 && args[0] == "set" {
		ctx.Editor = args[1]
		exitWithError(ctx.Write())
		return
	}
	logger.Logln(ctx.Editor)
}

type remoteCmd struct{}

func (cmd *remoteCmd) Flags(fs *flag.FlagSet) *flag.FlagSet { return fs }

func (cmd *remoteCmd) Run(args []string, definedFlags map[string]*flag.Flag) {
	ctx := openContext()
	if len(args) >= 2 && args[0] == "set" {
		ctx.OriginURL = args[1]
		exitWithError(ctx.Write())
		return
	}
	logger.Logln(ctx.OriginURL)
}

type helpCmd struct{}

func (cmd *helpCmd) Flags(fs *flag.FlagSet) *flag.FlagSet { return fs }

func (cmd *helpCmd) Run(args []string, definedFlags map[string]*flag.Flag) {
	logger.Logln("commands: init, clone <url>, status, push, pull, sync, login [name], logout, editor [set <path>], remote [set <url>]")
}

func main() {
	command.On("init", "initialize a repository in the current directory", &initCmd{}, []string{})
	command.On("clone", "clone a remote repository into a new directory", &cloneCmd{}, []string{})
	command.On("status", "report pending reconciliation actions", &statusCmd{}, []string{})
	command.On("push", "apply local-favoring reconciliation actions", &pushCmd{}, []string{})
	command.On("pull", "apply remote-favoring reconciliation actions", &pullCmd{}, []string{})
	command.On("sync", "apply all non-conflicting reconciliation actions", &syncCmd{}, []string{})
	command.On("login", "authenticate against the remote", &loginCmd{}, []string{})
	command.On("logout", "discard the stored authentication token", &logoutCmd{}, []string{})
	command.On("editor", "get or set the configured editor command", &editorCmd{}, []string{})
	command.On("remote", "get or set the configured remote origin", &remoteCmd{}, []string{})
	command.DefineHelp(&helpCmd{})
	command.ParseAndRun()
}
