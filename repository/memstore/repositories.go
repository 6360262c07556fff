package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"wealthwars/domain/entities"
)

type identityRepository struct {
	uow *unitOfWork
}

func (r *identityRepository) GetByID(ctx context.Context, id string) (*entities.Identity, error) {
	data, err := r.uow.data()
	if err != nil {
		return nil, err
	}
	identity, ok := data.identities[id]
	if !ok {
		return nil, nil
	}
	return copyIdentity(identity), nil
}

func (r *identityRepository) GetByPlatformHandle(ctx context.Context, handle string) (*entities.Identity, error) {
	data, err := r.uow.data()
	if err != nil {
		return nil, err
	}
	for _, identity := range data.identities {
		if identity.PlatformHandle != nil && *identity.PlatformHandle == handle {
			return copyIdentity(identity), nil
		}
	}
	return nil, nil
}

func (r *identityRepository) GetByWallet(ctx context.Context, address string) (*entities.Identity, error) {
	data, err := r.uow.data()
	if err != nil {
		return nil, err
	}
	for _, identity := range data.identities {
		if identity.Wallet() == address {
			return copyIdentity(identity), nil
		}
	}
	return nil, nil
}

func (r *identityRepository) Create(ctx context.Context, identity *entities.Identity) (*entities.Identity, error) {
	data, err := r.uow.data()
	if err != nil {
		return nil, err
	}
	if existing, ok := data.identities[identity.ID]; ok {
		return copyIdentity(existing), nil
	}
	stored := copyIdentity(identity)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.UpdatedAt = stored.CreatedAt
	data.identities[stored.ID] = stored
	return copyIdentity(stored), nil
}

func (r *identityRepository) BindWallet(ctx context.Context, id string, address string) error {
	data, err := r.uow.data()
	if err != nil {
		return err
	}
	identity, ok := data.identities[id]
	if !ok {
		return fmt.Errorf("%w: %s", entities.ErrIdentityNotFound, id)
	}
	for otherID, other := range data.identities {
		if otherID != id && other.Wallet() == address {
			return fmt.Errorf("%w: %s", entities.ErrWalletAlreadyLinked, address)
		}
	}
	identity.WalletAddress = &address
	identity.UpdatedAt = time.Now().UTC()
	return nil
}

type linkChallengeRepository struct {
	uow *unitOfWork
}

func (r *linkChallengeRepository) Upsert(ctx context.Context, challenge *entities.LinkChallenge) error {
	data, err := r.uow.data()
	if err != nil {
		return err
	}
	cp := *challenge
	data.challenges[challenge.IdentityID] = &cp
	return nil
}

func (r *linkChallengeRepository) GetForUpdate(ctx context.Context, identityID string) (*entities.LinkChallenge, error) {
	data, err := r.uow.data()
	if err != nil {
		return nil, err
	}
	challenge, ok := data.challenges[identityID]
	if !ok {
		return nil, nil
	}
	cp := *challenge
	return &cp, nil
}

func (r *linkChallengeRepository) Delete(ctx context.Context, identityID string) error {
	data, err := r.uow.data()
	if err != nil {
		return err
	}
	delete(data.challenges, identityID)
	return nil
}

func (r *linkChallengeRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	data, err := r.uow.data()
	if err != nil {
		return 0, err
	}
	var removed int64
	for id, challenge := range data.challenges {
		if challenge.CreatedAt.Before(cutoff) {
			delete(data.challenges, id)
			removed++
		}
	}
	return removed, nil
}

type roundRepository struct {
	uow *unitOfWork
}

func (r *roundRepository) Create(ctx context.Context, round *entities.Round) error {
	data, err := r.uow.data()
	if err != nil {
		return err
	}
	if round.IsOpen() {
		for _, existing := range data.rounds {
			if existing.Authority == round.Authority && existing.IsOpen() {
				return fmt.Errorf("%w: round %d", entities.ErrRoundAlreadyOpen, existing.ID)
			}
		}
	}
	data.nextRoundID++
	round.ID = data.nextRoundID
	data.rounds[round.ID] = copyRound(round)
	return nil
}

func (r *roundRepository) GetByID(ctx context.Context, id int64) (*entities.Round, error) {
	data, err := r.uow.data()
	if err != nil {
		return nil, err
	}
	round, ok := data.rounds[id]
	if !ok {
		return nil, nil
	}
	return copyRound(round), nil
}

// GetByIDForUpdate is GetByID; the transaction already holds the store lock
func (r *roundRepository) GetByIDForUpdate(ctx context.Context, id int64) (*entities.Round, error) {
	return r.GetByID(ctx, id)
}

func (r *roundRepository) GetOpenByAuthority(ctx context.Context, authority string) (*entities.Round, error) {
	rounds, err := r.filter(func(round *entities.Round) bool {
		return round.Authority == authority && round.IsOpen()
	})
	if err != nil || len(rounds) == 0 {
		return nil, err
	}
	return rounds[0], nil
}

func (r *roundRepository) GetLatestByAuthority(ctx context.Context, authority string) (*entities.Round, error) {
	rounds, err := r.filter(func(round *entities.Round) bool {
		return round.Authority == authority
	})
	if err != nil || len(rounds) == 0 {
		return nil, err
	}
	return rounds[len(rounds)-1], nil
}

func (r *roundRepository) IncrementPot(ctx context.Context, id int64, amount int64) error {
	data, err := r.uow.data()
	if err != nil {
		return err
	}
	round, ok := data.rounds[id]
	if !ok {
		return fmt.Errorf("%w: %d", entities.ErrRoundNotFound, id)
	}
	if !round.IsOpen() || round.IsFull() {
		return fmt.Errorf("%w: round %d not open or already full", entities.ErrRoundFull, id)
	}
	round.PotTotal += amount
	round.EntryCount++
	return nil
}

func (r *roundRepository) Update(ctx context.Context, round *entities.Round) error {
	data, err := r.uow.data()
	if err != nil {
		return err
	}
	stored, ok := data.rounds[round.ID]
	if !ok {
		return fmt.Errorf("%w: %d", entities.ErrRoundNotFound, round.ID)
	}
	// pot and count belong to IncrementPot
	updated := copyRound(round)
	updated.PotTotal = stored.PotTotal
	updated.EntryCount = stored.EntryCount
	data.rounds[round.ID] = updated
	return nil
}

func (r *roundRepository) GetDueForClose(ctx context.Context, now time.Time) ([]*entities.Round, error) {
	return r.filter(func(round *entities.Round) bool {
		return round.IsOpen() && (round.DeadlinePassed(now) || round.IsFull())
	})
}

func (r *roundRepository) GetByStatus(ctx context.Context, status entities.RoundStatus) ([]*entities.Round, error) {
	return r.filter(func(round *entities.Round) bool {
		return round.Status == status
	})
}

// filter returns matching rounds ordered by id
func (r *roundRepository) filter(match func(*entities.Round) bool) ([]*entities.Round, error) {
	data, err := r.uow.data()
	if err != nil {
		return nil, err
	}
	var rounds []*entities.Round
	for _, round := range data.rounds {
		if match(round) {
			rounds = append(rounds, copyRound(round))
		}
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].ID < rounds[j].ID })
	return rounds, nil
}

type entryRepository struct {
	uow *unitOfWork
}

func (r *entryRepository) Create(ctx context.Context, entry *entities.Entry) error {
	data, err := r.uow.data()
	if err != nil {
		return err
	}
	if entry.Exclusive {
		for _, existing := range data.entries {
			if existing.Exclusive && existing.RoundID == entry.RoundID && existing.IdentityID == entry.IdentityID {
				return fmt.Errorf("%w: %s in round %d", entities.ErrDuplicateEntry, entry.IdentityID, entry.RoundID)
			}
		}
	}
	data.nextEntryID++
	entry.ID = data.nextEntryID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	data.entries[entry.ID] = copyEntry(entry)
	return nil
}

func (r *entryRepository) GetByID(ctx context.Context, id int64) (*entities.Entry, error) {
	data, err := r.uow.data()
	if err != nil {
		return nil, err
	}
	entry, ok := data.entries[id]
	if !ok {
		return nil, nil
	}
	return copyEntry(entry), nil
}

func (r *entryRepository) GetByIDForUpdate(ctx context.Context, id int64) (*entities.Entry, error) {
	return r.GetByID(ctx, id)
}

func (r *entryRepository) GetByRound(ctx context.Context, roundID int64) ([]*entities.Entry, error) {
	data, err := r.uow.data()
	if err != nil {
		return nil, err
	}
	entries := make([]*entities.Entry, 0)
	for _, entry := range data.entries {
		if entry.RoundID == roundID {
			entries = append(entries, copyEntry(entry))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (r *entryRepository) ExistsForIdentity(ctx context.Context, roundID int64, identityID string) (bool, error) {
	data, err := r.uow.data()
	if err != nil {
		return false, err
	}
	for _, entry := range data.entries {
		if entry.RoundID == roundID && entry.IdentityID == identityID {
			return true, nil
		}
	}
	return false, nil
}

func (r *entryRepository) SumStakes(ctx context.Context, roundID int64) (int64, error) {
	data, err := r.uow.data()
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, entry := range data.entries {
		if entry.RoundID == roundID {
			sum += entry.Stake
		}
	}
	return sum, nil
}

func (r *entryRepository) MarkClaimed(ctx context.Context, id int64) (bool, error) {
	data, err := r.uow.data()
	if err != nil {
		return false, err
	}
	entry, ok := data.entries[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", entities.ErrEntryNotFound, id)
	}
	if entry.Claimed {
		return false, nil
	}
	entry.Claimed = true
	return true, nil
}

type claimRepository struct {
	uow *unitOfWork
}

func (r *claimRepository) GetByEntryID(ctx context.Context, entryID int64) (*entities.Claim, error) {
	data, err := r.uow.data()
	if err != nil {
		return nil, err
	}
	claim, ok := data.claims[entryID]
	if !ok {
		return nil, nil
	}
	return copyClaim(claim), nil
}

func (r *claimRepository) Create(ctx context.Context, claim *entities.Claim) error {
	data, err := r.uow.data()
	if err != nil {
		return err
	}
	if _, ok := data.claims[claim.EntryID]; ok {
		return fmt.Errorf("%w: entry %d", entities.ErrAlreadyClaimed, claim.EntryID)
	}
	data.nextClaimID++
	claim.ID = data.nextClaimID
	data.claims[claim.EntryID] = copyClaim(claim)
	return nil
}

func (r *claimRepository) Update(ctx context.Context, claim *entities.Claim) error {
	data, err := r.uow.data()
	if err != nil {
		return err
	}
	if _, ok := data.claims[claim.EntryID]; !ok {
		return fmt.Errorf("claim for entry %d not found", claim.EntryID)
	}
	data.claims[claim.EntryID] = copyClaim(claim)
	return nil
}

func (r *claimRepository) GetResumable(ctx context.Context, now time.Time) ([]*entities.Claim, error) {
	data, err := r.uow.data()
	if err != nil {
		return nil, err
	}
	var claims []*entities.Claim
	for _, claim := range data.claims {
		if claim.Abandoned(now) {
			claims = append(claims, copyClaim(claim))
		}
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].ID < claims[j].ID })
	return claims, nil
}
