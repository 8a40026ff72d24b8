package openstackbuilder

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/imamik/runner-image-builder/internal/actionsrunner"
	"github.com/imamik/runner-image-builder/internal/config"
)

// sentinelPath marks a finished first-boot provision. The poll loop
// watches for it over SSH.
const sentinelPath = "/home/ubuntu/.install-complete"

// firstBootTemplate provisions the runner toolset on first boot of the
// build VM. It mirrors what the local chroot pipeline installs, ending
// with the sentinel file the poll loop watches for.
var firstBootTemplate = template.Must(template.New("first-boot").Parse(`#!/bin/bash
set -e

{{- if .Proxy}}

export http_proxy=http://{{.Proxy}}
export https_proxy=http://{{.Proxy}}
export HTTP_PROXY=http://{{.Proxy}}
export HTTPS_PROXY=http://{{.Proxy}}
echo "Acquire::http::Proxy \"http://{{.Proxy}}\";" > /etc/apt/apt.conf.d/99proxy
echo "Acquire::https::Proxy \"http://{{.Proxy}}\";" >> /etc/apt/apt.conf.d/99proxy
{{- end}}

export DEBIAN_FRONTEND=noninteractive
apt-get update -y
apt-get install -y --no-install-recommends {{.AptPackages}}

{{- range .SnapCommands}}
{{.}}
{{- end}}

git clone --depth 1 https://github.com/mikefarah/yq.git /tmp/yq
(cd /tmp/yq && go build -o /usr/bin/yq)
rm -rf /tmp/yq

npm install --global yarn
npm cache clean --force

mkdir -p {{.RunnerDir}}
curl -fsSL {{.RunnerURL}} | tar -xz -C {{.RunnerDir}}

{{- if .JujuChannel}}
snap install juju --channel={{.JujuChannel}} --classic
{{- end}}

systemctl disable apt-daily.timer apt-daily-upgrade.timer || true
systemctl mask apt-daily.service apt-daily-upgrade.service || true
systemctl disable unattended-upgrades.service || true
apt-get purge -y unattended-upgrades

{{- range .Groups}}
groupadd -f {{.}}
{{- end}}
usermod -aG {{.GroupList}} ubuntu
echo 'ubuntu ALL=(ALL) NOPASSWD:ALL' > /etc/sudoers.d/99-ubuntu

chown -R ubuntu:ubuntu /home/ubuntu
chmod 755 /home/ubuntu

su ubuntu -c 'touch {{.Sentinel}}'
`))

type firstBootData struct {
	Proxy        string
	AptPackages  string
	SnapCommands []string
	RunnerDir    string
	RunnerURL    string
	JujuChannel  string
	Groups       []string
	GroupList    string
	Sentinel     string
}

// FirstBootScript renders the cloud-init user data for a build VM.
// img.RunnerVersion must already be resolved to a concrete version.
func FirstBootScript(img config.ImageConfig, proxy string) ([]byte, error) {
	if img.RunnerVersion == "" {
		return nil, fmt.Errorf("runner version not resolved")
	}

	groups := []string{"docker", "microk8s", "lxd", "sudo"}
	snapCommands := make([]string, 0, len(img.Snaps))
	for _, snap := range img.Snaps {
		cmd := fmt.Sprintf("snap install %s --channel=%s", snap.Name, snap.Channel)
		if snap.Classic {
			cmd += " --classic"
		}
		snapCommands = append(snapCommands, cmd)
	}

	var out strings.Builder
	err := firstBootTemplate.Execute(&out, firstBootData{
		Proxy:        proxy,
		AptPackages:  strings.Join(config.DefaultAptPackages, " "),
		SnapCommands: snapCommands,
		RunnerDir:    actionsrunner.InstallDir,
		RunnerURL:    actionsrunner.DownloadURL(img.RunnerVersion, img.Arch),
		JujuChannel:  img.JujuChannel,
		Groups:       groups,
		GroupList:    strings.Join(groups, ","),
		Sentinel:     sentinelPath,
	})
	if err != nil {
		return nil, fmt.Errorf("render first boot script: %w", err)
	}
	return []byte(out.String()), nil
}
