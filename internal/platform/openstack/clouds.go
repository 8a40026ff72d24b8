package openstack

import (
	"fmt"
	"sort"

	"github.com/gophercloud/utils/v2/openstack/clientconfig"
)

// DetermineCloud validates a cloud name against the resolved
// clouds.yaml. An empty name selects the only sensible default: the
// first cloud in the file, by name. The clouds.yaml search order is
// clientconfig's: current directory, then ~/.config/openstack, then
// /etc/openstack.
func DetermineCloud(cloudName string) (string, error) {
	clouds, err := clientconfig.LoadCloudsYAML()
	if err != nil {
		return "", fmt.Errorf("load clouds.yaml: %w", err)
	}
	if len(clouds) == 0 {
		return "", fmt.Errorf("no clouds defined in clouds.yaml")
	}

	if cloudName != "" {
		if _, ok := clouds[cloudName]; !ok {
			return "", fmt.Errorf("cloud %q not found in clouds.yaml", cloudName)
		}
		return cloudName, nil
	}

	names := make([]string, 0, len(clouds))
	for name := range clouds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0], nil
}
