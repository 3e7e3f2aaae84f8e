package checker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/everydev1618/examlab/container"
)

// Probe is one named verification step. Command runs non-interactively in
// the exercise container and Evaluate turns its result into a verdict.
type Probe struct {
	Name     string
	Kind     string
	Command  []string
	Evaluate func(res *container.ExecResult) (passed bool, message string)
}

// builder creates a probe from decoded params.
type builder func(name string, params map[string]any) (Probe, error)

var kinds = map[string]builder{
	"hostname":          buildHostname,
	"file_exists":       buildFileExists,
	"file_contains":     buildFileContains,
	"file_mode":         buildFileMode,
	"path_owner":        buildPathOwner,
	"path_group":        buildPathGroup,
	"setgid":            buildSetgid,
	"user_exists":       buildUserExists,
	"user_uid":          buildUserUID,
	"user_shell":        buildUserShell,
	"group_exists":      buildGroupExists,
	"group_gid":         buildGroupGID,
	"user_in_group":     buildUserInGroup,
	"service_enabled":   buildServiceEnabled,
	"port_listening":    buildPortListening,
	"ip_configured":     buildIPConfigured,
	"package_installed": buildPackageInstalled,
	"command":           buildCommand,
}

// Kinds lists the supported probe kinds.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewProbe builds a probe of the given kind.
func NewProbe(name, kind string, params map[string]any) (Probe, error) {
	if name == "" {
		return Probe{}, fmt.Errorf("probe name is required")
	}
	build, ok := kinds[kind]
	if !ok {
		return Probe{}, fmt.Errorf("probe %q: unknown kind %q", name, kind)
	}
	p, err := build(name, params)
	if err != nil {
		return Probe{}, fmt.Errorf("probe %q (%s): %w", name, kind, err)
	}
	p.Name = name
	p.Kind = kind
	return p, nil
}

func decode(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func output(res *container.ExecResult) string {
	return strings.TrimSpace(res.Stdout)
}

// failure describes a non-zero exit, preferring the command's own stderr.
func failure(res *container.ExecResult, what string) string {
	if msg := strings.TrimSpace(res.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("%s failed (exit %d)", what, res.ExitCode)
}

type hostnameParams struct {
	Expected string `mapstructure:"expected"`
}

func buildHostname(name string, params map[string]any) (Probe, error) {
	var p hostnameParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("expected", p.Expected); err != nil {
		return Probe{}, err
	}
	return Probe{
		Command: []string{"sh", "-c", "hostname -f 2>/dev/null || hostname"},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			if res.ExitCode != 0 {
				return false, failure(res, "hostname")
			}
			got := output(res)
			if got == p.Expected {
				return true, fmt.Sprintf("Hostname is '%s'", got)
			}
			return false, fmt.Sprintf("Expected '%s', got '%s'", p.Expected, got)
		},
	}, nil
}

type fileExistsParams struct {
	Path string `mapstructure:"path"`
	Type string `mapstructure:"type"`
}

func buildFileExists(name string, params map[string]any) (Probe, error) {
	var p fileExistsParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("path", p.Path); err != nil {
		return Probe{}, err
	}

	flag, noun := "-e", "Path"
	switch p.Type {
	case "", "any":
	case "file":
		flag, noun = "-f", "File"
	case "dir", "directory":
		flag, noun = "-d", "Directory"
	default:
		return Probe{}, fmt.Errorf("type must be file, dir or any, got %q", p.Type)
	}

	return Probe{
		Command: []string{"test", flag, p.Path},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			if res.ExitCode == 0 {
				return true, fmt.Sprintf("%s %s exists", noun, p.Path)
			}
			return false, fmt.Sprintf("%s %s not found", noun, p.Path)
		},
	}, nil
}

type fileContainsParams struct {
	Path    string `mapstructure:"path"`
	Pattern string `mapstructure:"pattern"`
	Regex   bool   `mapstructure:"regex"`
}

func buildFileContains(name string, params map[string]any) (Probe, error) {
	var p fileContainsParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("path", p.Path); err != nil {
		return Probe{}, err
	}
	if err := required("pattern", p.Pattern); err != nil {
		return Probe{}, err
	}

	mode := "-qF"
	if p.Regex {
		mode = "-qE"
	}
	return Probe{
		Command: []string{"grep", mode, "--", p.Pattern, p.Path},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			switch res.ExitCode {
			case 0:
				return true, fmt.Sprintf("'%s' found in %s", p.Pattern, p.Path)
			case 1:
				return false, fmt.Sprintf("'%s' not found in %s", p.Pattern, p.Path)
			}
			return false, fmt.Sprintf("%s is missing or unreadable", p.Path)
		},
	}, nil
}

type fileModeParams struct {
	Path string `mapstructure:"path"`
	Mode string `mapstructure:"mode"`
}

func buildFileMode(name string, params map[string]any) (Probe, error) {
	var p fileModeParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("path", p.Path); err != nil {
		return Probe{}, err
	}
	want, err := strconv.ParseUint(p.Mode, 8, 32)
	if err != nil {
		return Probe{}, fmt.Errorf("mode must be octal, got %q", p.Mode)
	}

	return Probe{
		Command: []string{"stat", "-c", "%a", p.Path},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			if res.ExitCode != 0 {
				return false, fmt.Sprintf("%s not found", p.Path)
			}
			got, err := strconv.ParseUint(output(res), 8, 32)
			if err != nil {
				return false, fmt.Sprintf("unexpected stat output %q", output(res))
			}
			if got == want {
				return true, fmt.Sprintf("Mode of %s is %04o", p.Path, got)
			}
			return false, fmt.Sprintf("Mode of %s is %04o, expected %04o", p.Path, got, want)
		},
	}, nil
}

type pathOwnerParams struct {
	Path string `mapstructure:"path"`
	User string `mapstructure:"user"`
}

func buildPathOwner(name string, params map[string]any) (Probe, error) {
	var p pathOwnerParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("path", p.Path); err != nil {
		return Probe{}, err
	}
	if err := required("user", p.User); err != nil {
		return Probe{}, err
	}
	return statField(p.Path, "%U", "Owner", p.User), nil
}

type pathGroupParams struct {
	Path  string `mapstructure:"path"`
	Group string `mapstructure:"group"`
}

func buildPathGroup(name string, params map[string]any) (Probe, error) {
	var p pathGroupParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("path", p.Path); err != nil {
		return Probe{}, err
	}
	if err := required("group", p.Group); err != nil {
		return Probe{}, err
	}
	return statField(p.Path, "%G", "Group owner", p.Group), nil
}

func statField(path, format, label, want string) Probe {
	return Probe{
		Command: []string{"stat", "-c", format, path},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			if res.ExitCode != 0 {
				return false, fmt.Sprintf("%s not found", path)
			}
			got := output(res)
			if got == want {
				return true, fmt.Sprintf("%s of %s is %s", label, path, want)
			}
			return false, fmt.Sprintf("%s of %s is %s, expected %s", label, path, got, want)
		},
	}
}

type pathParams struct {
	Path string `mapstructure:"path"`
}

func buildSetgid(name string, params map[string]any) (Probe, error) {
	var p pathParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("path", p.Path); err != nil {
		return Probe{}, err
	}
	return Probe{
		Command: []string{"stat", "-c", "%a", p.Path},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			if res.ExitCode != 0 {
				return false, fmt.Sprintf("%s not found", p.Path)
			}
			mode, err := strconv.ParseUint(output(res), 8, 32)
			if err != nil {
				return false, fmt.Sprintf("unexpected stat output %q", output(res))
			}
			if mode&0o2000 != 0 {
				return true, fmt.Sprintf("setgid set (mode %04o)", mode)
			}
			return false, fmt.Sprintf("setgid not set (mode %04o)", mode)
		},
	}, nil
}

type userParams struct {
	User string `mapstructure:"user"`
}

func buildUserExists(name string, params map[string]any) (Probe, error) {
	var p userParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("user", p.User); err != nil {
		return Probe{}, err
	}
	return Probe{
		Command: []string{"id", "-u", p.User},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			if res.ExitCode == 0 {
				return true, fmt.Sprintf("User '%s' exists", p.User)
			}
			return false, fmt.Sprintf("User '%s' not found", p.User)
		},
	}, nil
}

type userUIDParams struct {
	User string `mapstructure:"user"`
	UID  int    `mapstructure:"uid"`
}

func buildUserUID(name string, params map[string]any) (Probe, error) {
	var p userUIDParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("user", p.User); err != nil {
		return Probe{}, err
	}
	return Probe{
		Command: []string{"id", "-u", p.User},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			if res.ExitCode != 0 {
				return false, fmt.Sprintf("User '%s' not found", p.User)
			}
			got := output(res)
			if got == strconv.Itoa(p.UID) {
				return true, fmt.Sprintf("User '%s' has UID %d", p.User, p.UID)
			}
			return false, fmt.Sprintf("User '%s' has UID %s, expected %d", p.User, got, p.UID)
		},
	}, nil
}

type userShellParams struct {
	User  string `mapstructure:"user"`
	Shell string `mapstructure:"shell"`
}

func buildUserShell(name string, params map[string]any) (Probe, error) {
	var p userShellParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("user", p.User); err != nil {
		return Probe{}, err
	}
	if err := required("shell", p.Shell); err != nil {
		return Probe{}, err
	}
	return Probe{
		Command: []string{"getent", "passwd", p.User},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			fields := strings.Split(output(res), ":")
			if res.ExitCode != 0 || len(fields) < 7 {
				return false, fmt.Sprintf("User '%s' not found", p.User)
			}
			if fields[6] == p.Shell {
				return true, fmt.Sprintf("Shell of '%s' is %s", p.User, p.Shell)
			}
			return false, fmt.Sprintf("Shell of '%s' is %s, expected %s", p.User, fields[6], p.Shell)
		},
	}, nil
}

type groupParams struct {
	Group string `mapstructure:"group"`
}

func buildGroupExists(name string, params map[string]any) (Probe, error) {
	var p groupParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("group", p.Group); err != nil {
		return Probe{}, err
	}
	return Probe{
		Command: []string{"getent", "group", p.Group},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			if res.ExitCode == 0 {
				return true, fmt.Sprintf("Group '%s' exists", p.Group)
			}
			return false, fmt.Sprintf("Group '%s' not found", p.Group)
		},
	}, nil
}

type groupGIDParams struct {
	Group string `mapstructure:"group"`
	GID   int    `mapstructure:"gid"`
}

func buildGroupGID(name string, params map[string]any) (Probe, error) {
	var p groupGIDParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("group", p.Group); err != nil {
		return Probe{}, err
	}
	return Probe{
		Command: []string{"getent", "group", p.Group},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			fields := strings.Split(output(res), ":")
			if res.ExitCode != 0 || len(fields) < 3 {
				return false, fmt.Sprintf("Group '%s' not found", p.Group)
			}
			if fields[2] == strconv.Itoa(p.GID) {
				return true, fmt.Sprintf("Group '%s' has GID %d", p.Group, p.GID)
			}
			return false, fmt.Sprintf("Group '%s' has GID %s, expected %d", p.Group, fields[2], p.GID)
		},
	}, nil
}

type userInGroupParams struct {
	User   string `mapstructure:"user"`
	Group  string `mapstructure:"group"`
	Absent bool   `mapstructure:"absent"`
}

func buildUserInGroup(name string, params map[string]any) (Probe, error) {
	var p userInGroupParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("user", p.User); err != nil {
		return Probe{}, err
	}
	if err := required("group", p.Group); err != nil {
		return Probe{}, err
	}
	return Probe{
		Command: []string{"id", "-Gn", p.User},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			if res.ExitCode != 0 {
				return false, fmt.Sprintf("User '%s' not found", p.User)
			}
			member := false
			for _, g := range strings.Fields(output(res)) {
				if g == p.Group {
					member = true
					break
				}
			}
			switch {
			case member && !p.Absent:
				return true, fmt.Sprintf("User %s is in group %s", p.User, p.Group)
			case !member && p.Absent:
				return true, fmt.Sprintf("User %s is not in group %s", p.User, p.Group)
			case member:
				return false, fmt.Sprintf("User %s must not be in group %s", p.User, p.Group)
			}
			return false, fmt.Sprintf("User %s not in group %s", p.User, p.Group)
		},
	}, nil
}

type serviceParams struct {
	Service string `mapstructure:"service"`
}

// serviceScript accepts either systemctl's verdict or, in containers without
// a running systemd, a wants/ symlink left by "systemctl enable".
const serviceScript = `systemctl is-enabled --quiet "$1" 2>/dev/null && exit 0
for f in /etc/systemd/system/*.wants/"$1".service; do [ -e "$f" ] && exit 0; done
exit 1`

func buildServiceEnabled(name string, params map[string]any) (Probe, error) {
	var p serviceParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("service", p.Service); err != nil {
		return Probe{}, err
	}
	return Probe{
		Command: []string{"sh", "-c", serviceScript, "service-enabled", p.Service},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			if res.ExitCode == 0 {
				return true, fmt.Sprintf("Service '%s' is enabled", p.Service)
			}
			return false, fmt.Sprintf("Service '%s' is not enabled", p.Service)
		},
	}, nil
}

type portParams struct {
	Port int `mapstructure:"port"`
}

func buildPortListening(name string, params map[string]any) (Probe, error) {
	var p portParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if p.Port <= 0 || p.Port > 65535 {
		return Probe{}, fmt.Errorf("port out of range: %d", p.Port)
	}
	suffix := ":" + strconv.Itoa(p.Port)
	return Probe{
		Command: []string{"sh", "-c", "ss -tln 2>/dev/null || netstat -tln 2>/dev/null"},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			for _, line := range strings.Split(res.Stdout, "\n") {
				for _, field := range strings.Fields(line) {
					if strings.HasSuffix(field, suffix) {
						return true, fmt.Sprintf("Port %d is listening", p.Port)
					}
				}
			}
			return false, fmt.Sprintf("Port %d is not listening", p.Port)
		},
	}, nil
}

type ipParams struct {
	Address string `mapstructure:"address"`
}

func buildIPConfigured(name string, params map[string]any) (Probe, error) {
	var p ipParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("address", p.Address); err != nil {
		return Probe{}, err
	}
	return Probe{
		Command: []string{"ip", "-4", "-o", "addr", "show"},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			fields := strings.Fields(res.Stdout)
			for i := 0; i+1 < len(fields); i++ {
				if fields[i] != "inet" {
					continue
				}
				addr, _, _ := strings.Cut(fields[i+1], "/")
				if addr == p.Address {
					return true, fmt.Sprintf("IP %s configured", p.Address)
				}
			}
			return false, fmt.Sprintf("IP %s not found in interfaces", p.Address)
		},
	}, nil
}

type packageParams struct {
	Package string `mapstructure:"package"`
}

func buildPackageInstalled(name string, params map[string]any) (Probe, error) {
	var p packageParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}
	if err := required("package", p.Package); err != nil {
		return Probe{}, err
	}
	return Probe{
		Command: []string{"rpm", "-q", p.Package},
		Evaluate: func(res *container.ExecResult) (bool, string) {
			if res.ExitCode == 0 {
				return true, fmt.Sprintf("Package %s installed (%s)", p.Package, output(res))
			}
			return false, fmt.Sprintf("Package %s is not installed", p.Package)
		},
	}, nil
}

type commandParams struct {
	Argv     []string `mapstructure:"argv"`
	Script   string   `mapstructure:"script"`
	ExitCode int      `mapstructure:"exit_code"`
	Output   string   `mapstructure:"output"`
	OnPass   string   `mapstructure:"pass_message"`
	OnFail   string   `mapstructure:"fail_message"`
}

func buildCommand(name string, params map[string]any) (Probe, error) {
	var p commandParams
	if err := decode(params, &p); err != nil {
		return Probe{}, err
	}

	var argv []string
	switch {
	case len(p.Argv) > 0 && p.Script != "":
		return Probe{}, fmt.Errorf("argv and script are mutually exclusive")
	case len(p.Argv) > 0:
		argv = p.Argv
	case p.Script != "":
		argv = []string{"sh", "-c", p.Script}
	default:
		return Probe{}, fmt.Errorf("argv or script is required")
	}

	return Probe{
		Command: argv,
		Evaluate: func(res *container.ExecResult) (bool, string) {
			ok := res.ExitCode == p.ExitCode
			if ok && p.Output != "" {
				ok = strings.Contains(res.Stdout, p.Output)
			}
			if ok {
				if p.OnPass != "" {
					return true, p.OnPass
				}
				return true, fmt.Sprintf("%s succeeded", name)
			}
			if p.OnFail != "" {
				return false, p.OnFail
			}
			if res.ExitCode != p.ExitCode {
				return false, fmt.Sprintf("exit %d, expected %d", res.ExitCode, p.ExitCode)
			}
			return false, fmt.Sprintf("output does not contain %q", p.Output)
		},
	}, nil
}
