package handlers

import (
	"context"
	"fmt"
	"io"

	"github.com/imamik/runner-image-builder/internal/store"
)

// LatestBuildID writes the id of the newest stored revision of
// imageName to out, without a trailing newline.
func LatestBuildID(ctx context.Context, cloudName, imageName string, out io.Writer) error {
	name, err := determineCloud(cloudName)
	if err != nil {
		return err
	}
	conn, err := newConnection(ctx, name)
	if err != nil {
		return err
	}
	id, err := store.GetLatestBuildID(ctx, conn, imageName)
	if err != nil {
		return err
	}
	fmt.Fprint(out, id)
	return nil
}
