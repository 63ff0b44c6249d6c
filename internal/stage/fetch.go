package stage

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"strings"
)

var shellAssignment = regexp.MustCompile(`^([A-Za-z]+)="([A-Za-z0-9.\-]+)"`)

// ParseBuildName scans newvers.sh for REVISION and BRANCH and joins them,
// e.g. REVISION="6.0" and BRANCH="RELEASE-p4" give "6.0-RELEASE-p4".
func ParseBuildName(r io.Reader) (string, error) {
	var revision, branch string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		match := shellAssignment.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}
		switch match[1] {
		case "REVISION":
			revision = match[2]
		case "BRANCH":
			branch = match[2]
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	var missing []string
	if revision == "" {
		missing = append(missing, "REVISION")
	}
	if branch == "" {
		missing = append(missing, "BRANCH")
	}
	if len(missing) > 0 {
		return "", &ParseError{Source: NewversPath, Detail: "missing " + strings.Join(missing, " and ")}
	}
	return revision + "-" + branch, nil
}

// FetchBuildName prints newvers.sh at tag from the repository and parses the
// build name out of it.
func FetchBuildName(ctx context.Context, env Env, cvsroot, tag string) (string, error) {
	env.logger().Info("Fetching release name", "cvsroot", cvsroot, "tag", tag)

	out, err := env.Exec.Output(env.Tools.CVSPrint(cvsroot, tag, NewversPath), env.log())
	if err != nil {
		return "", wrap(StageFetch, cvsroot+"@"+tag, err)
	}

	name, err := ParseBuildName(strings.NewReader(out))
	if err != nil {
		return "", wrap(StageFetch, cvsroot+"@"+tag, err)
	}
	return name, nil
}

// Checkout runs a cvs checkout of Module at Tag into Dest.
type Checkout struct {
	CVSRoot string
	Tag     string
	Dest    string
	Module  string
}

func (c Checkout) Run(ctx context.Context, env Env) error {
	env.logger().Info("Checking out sources", "module", c.Module, "tag", c.Tag, "dest", c.Dest)
	_, err := env.Exec.Run(env.Tools.CVSCheckout(c.CVSRoot, c.Tag, c.Dest, c.Module), env.log())
	return wrap(StageFetch, c.Module+"@"+c.Tag, err)
}

// PortsTree installs a fresh ports tree, either from a portsnap snapshot or
// from a cvs checkout of the ports module at HEAD.
type PortsTree struct {
	PortsDir    string
	CVSRoot     string
	UsePortsnap bool
}

func (p PortsTree) Run(ctx context.Context, env Env) error {
	if !p.UsePortsnap {
		return Checkout{CVSRoot: p.CVSRoot, Tag: "HEAD", Dest: p.PortsDir, Module: "ports"}.Run(ctx, env)
	}

	env.logger().Info("Fetching up-to-date ports snapshot")
	if _, err := env.Exec.Run(env.Tools.PortsnapFetch(), env.log()); err != nil {
		return wrap(StageFetch, "portsnap snapshot", err)
	}

	env.logger().Info("Extracting ports tree", "dest", p.PortsDir)
	_, err := env.Exec.Run(env.Tools.PortsnapExtract(p.PortsDir), env.log())
	return wrap(StageFetch, p.PortsDir, err)
}
