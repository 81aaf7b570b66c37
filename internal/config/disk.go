package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

var ErrNotEnoughSpace = errors.New("not enough space available on disk")

// CheckDirectory makes sure path is a directory with at least minimumFreeGB
// of free space and logs its disk usage.
func CheckDirectory(log *logrus.Logger, path string, minimumFreeGB int) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	usage, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("disk usage of %s: %w", path, err)
	}
	log.WithFields(logrus.Fields{
		"path":      path,
		"fstype":    usage.Fstype,
		"total(GB)": fmt.Sprintf("%.2f", float64(usage.Total)/1e9),
		"used(GB)":  fmt.Sprintf("%.2f", float64(usage.Used)/1e9),
		"free(GB)":  fmt.Sprintf("%.2f", float64(usage.Free)/1e9),
	}).Debug("disk usage")

	if free := usage.Free / (1024 * 1024 * 1024); free < uint64(minimumFreeGB) {
		return fmt.Errorf("%s: %w: %d GB free, %d GB required", path, ErrNotEnoughSpace, free, minimumFreeGB)
	}
	return nil
}
