package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jo-hoe/goprint/internal/backend/storage"
)

const imageRoot = "img"

func categoryDir(category string) string {
	return imageRoot + "/" + category
}

func folderName(category string, number int) string {
	return fmt.Sprintf("%s_%d", category, number)
}

func folderPath(category, folder string) string {
	return categoryDir(category) + "/" + folder
}

// nextFolderNumber returns one more than the highest numeric suffix among the
// "<category>_<n>" directories, or 1 when there is none.
func nextFolderNumber(entries []storage.Entry, category string) int {
	prefix := category + "_"
	highest := 0
	for _, entry := range entries {
		if !entry.IsDir || !strings.HasPrefix(entry.Name, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(entry.Name, prefix))
		if err != nil || n <= 0 {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1
}
