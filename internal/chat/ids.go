package chat

import "github.com/suPer8Hu/carelink-support/internal/common"

func NewSessionID() (string, error) {
	return common.NewULID()
}
