package cache

import "fmt"

// Key semantics:
// - roomKey(sheetID): connections currently in the room
//   (ZSet<connID, expireAtUnix>, score = expireAt as a logical TTL)

const keyRoomFmt = "presence:room:{sheetID:%s}"

func roomKey(sheetID string) string { return fmt.Sprintf(keyRoomFmt, sheetID) }
