package store

import (
	"sort"

	"github.com/capitalize-ai/messenger/internal/model"
)

func sortUsers(users []model.User) {
	sort.SliceStable(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.After(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})
}
