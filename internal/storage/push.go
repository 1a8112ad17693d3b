package storage

import (
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// PushSubscription is one browser webpush registration for a user. A user
// may hold several (one per browser). Keyed by endpoint inside a per-user
// bucket, so re-subscribing the same browser overwrites.
type PushSubscription struct {
	UserID   string `msgpack:"userId"`
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (p *PushSubscription) Key() []byte {
	return []byte(p.Endpoint)
}

func (p *PushSubscription) MarshalBinary() (data []byte, err error) {
	type alias PushSubscription
	return msgpack.Marshal((*alias)(p))
}

func (p *PushSubscription) UnmarshalBinary(data []byte) error {
	type alias PushSubscription
	return msgpack.Unmarshal(data, (*alias)(p))
}

func (s *BboltStorage) UpsertPushSubscription(sub PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ub, err := tx.Bucket(bucketPushSubs).CreateBucketIfNotExists([]byte(sub.UserID))
		if err != nil {
			return err
		}
		data, err := sub.MarshalBinary()
		if err != nil {
			return err
		}
		return ub.Put(sub.Key(), data)
	})
}

func (s *BboltStorage) ListPushSubscriptions(userID string) ([]PushSubscription, error) {
	var subs []PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		ub := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if ub == nil {
			return nil
		}
		return ub.ForEach(func(k, v []byte) error {
			var sub PushSubscription
			if err := sub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, sub)
			return nil
		})
	})
	return subs, err
}

// DeletePushSubscription removes a dead registration (typically after the
// push service reports the endpoint gone).
func (s *BboltStorage) DeletePushSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ub := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if ub == nil {
			return nil
		}
		return ub.Delete([]byte(endpoint))
	})
}
