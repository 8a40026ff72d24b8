package builder

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/imamik/runner-image-builder/internal/actionsrunner"
	"github.com/imamik/runner-image-builder/internal/chroot"
	"github.com/imamik/runner-image-builder/internal/config"
	"github.com/imamik/runner-image-builder/internal/imgerrors"
)

// imageUser is the account runner workloads execute under.
const imageUser = "ubuntu"

// imageUserGroups are the groups the image user needs for the runner
// toolset to work without root.
var imageUserGroups = []string{"docker", "microk8s", "lxd", "sudo"}

// provision installs the runner toolset inside the mounted image via
// the chroot session. Steps run in dependency order; the first failure
// aborts with its stage's error class.
func provision(ctx context.Context, session *chroot.Session, cfg config.ImageConfig) error {
	steps := []struct {
		name string
		fn   func(context.Context, *chroot.Session, config.ImageConfig) error
	}{
		{"apt packages", installAptPackages},
		{"snap packages", installSnaps},
		{"yq", buildYQ},
		{"yarn", installYarn},
		{"actions runner", installRunner},
		{"juju", installJuju},
		{"unattended upgrades", disableUnattendedUpgrades},
		{"system users", configureSystemUsers},
		{"permissions", configurePermissions},
	}
	for _, step := range steps {
		log.Info("provisioning", "step", step.name)
		if err := step.fn(ctx, session, cfg); err != nil {
			return err
		}
	}
	return nil
}

func installAptPackages(ctx context.Context, session *chroot.Session, _ config.ImageConfig) error {
	script := fmt.Sprintf(
		"export DEBIAN_FRONTEND=noninteractive\napt-get update -y\napt-get install -y --no-install-recommends %s",
		strings.Join(config.DefaultAptPackages, " "),
	)
	if err := session.Script(ctx, script); err != nil {
		return fmt.Errorf("install apt packages: %v: %w", err, imgerrors.ErrBuildImage)
	}
	return nil
}

func installSnaps(ctx context.Context, session *chroot.Session, cfg config.ImageConfig) error {
	for _, snap := range cfg.Snaps {
		args := []string{"install", snap.Name, "--channel=" + snap.Channel}
		if snap.Classic {
			args = append(args, "--classic")
		}
		if err := session.Run(ctx, "snap", args...); err != nil {
			return fmt.Errorf("install snap %s: %v: %w", snap.Name, err, imgerrors.ErrBuildImage)
		}
	}
	return nil
}

// buildYQ compiles yq from source. Upstream ships no arm64 apt package,
// so both architectures build it the same way.
func buildYQ(ctx context.Context, session *chroot.Session, _ config.ImageConfig) error {
	script := strings.Join([]string{
		"git clone --depth 1 https://github.com/mikefarah/yq.git /tmp/yq",
		"cd /tmp/yq",
		"go build -o /usr/bin/yq",
		"rm -rf /tmp/yq",
	}, "\n")
	if err := session.Script(ctx, script); err != nil {
		return fmt.Errorf("build yq: %v: %w", err, imgerrors.ErrYQBuild)
	}
	return nil
}

func installYarn(ctx context.Context, session *chroot.Session, _ config.ImageConfig) error {
	script := "npm install --global yarn\nnpm cache clean --force"
	if err := session.Script(ctx, script); err != nil {
		return fmt.Errorf("install yarn: %v: %w", err, imgerrors.ErrYarnInstall)
	}
	return nil
}

func installRunner(ctx context.Context, session *chroot.Session, cfg config.ImageConfig) error {
	url := actionsrunner.DownloadURL(cfg.RunnerVersion, cfg.Arch)
	script := strings.Join([]string{
		"mkdir -p " + actionsrunner.InstallDir,
		fmt.Sprintf("curl -fsSL %s | tar -xz -C %s", url, actionsrunner.InstallDir),
	}, "\n")
	if err := session.Script(ctx, script); err != nil {
		return fmt.Errorf("install actions runner %s: %v: %w", cfg.RunnerVersion, err, imgerrors.ErrBuildImage)
	}
	return nil
}

func installJuju(ctx context.Context, session *chroot.Session, cfg config.ImageConfig) error {
	if cfg.JujuChannel == "" {
		return nil
	}
	if err := session.Run(ctx, "snap", "install", "juju", "--channel="+cfg.JujuChannel, "--classic"); err != nil {
		return fmt.Errorf("install juju %s: %v: %w", cfg.JujuChannel, err, imgerrors.ErrBuildImage)
	}
	return nil
}

// disableUnattendedUpgrades stops the image from updating itself under
// a running job.
func disableUnattendedUpgrades(ctx context.Context, session *chroot.Session, _ config.ImageConfig) error {
	script := strings.Join([]string{
		"systemctl disable apt-daily.timer apt-daily-upgrade.timer || true",
		"systemctl mask apt-daily.service apt-daily-upgrade.service || true",
		"systemctl disable unattended-upgrades.service || true",
		"export DEBIAN_FRONTEND=noninteractive",
		"apt-get purge -y unattended-upgrades",
	}, "\n")
	if err := session.Script(ctx, script); err != nil {
		return fmt.Errorf("disable unattended upgrades: %v: %w", err, imgerrors.ErrUnattendedUpgradeDisable)
	}
	return nil
}

func configureSystemUsers(ctx context.Context, session *chroot.Session, _ config.ImageConfig) error {
	lines := []string{
		fmt.Sprintf("id %s >/dev/null 2>&1 || useradd --create-home --shell /bin/bash %s", imageUser, imageUser),
	}
	for _, group := range imageUserGroups {
		lines = append(lines, fmt.Sprintf("groupadd -f %s", group))
	}
	lines = append(lines,
		fmt.Sprintf("usermod -aG %s %s", strings.Join(imageUserGroups, ","), imageUser),
		fmt.Sprintf("echo '%s ALL=(ALL) NOPASSWD:ALL' > /etc/sudoers.d/99-%s", imageUser, imageUser),
	)
	if err := session.Script(ctx, strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("configure %s user: %v: %w", imageUser, err, imgerrors.ErrSystemUserConfiguration)
	}
	return nil
}

func configurePermissions(ctx context.Context, session *chroot.Session, _ config.ImageConfig) error {
	script := strings.Join([]string{
		fmt.Sprintf("chown -R %s:%s /home/%s", imageUser, imageUser, imageUser),
		fmt.Sprintf("chmod 755 /home/%s", imageUser),
	}, "\n")
	if err := session.Script(ctx, script); err != nil {
		return fmt.Errorf("set image permissions: %v: %w", err, imgerrors.ErrPermissionConfiguration)
	}
	return nil
}
