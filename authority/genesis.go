package authority

import (
	"github.com/canopy-network/fastpath/execution"
	"github.com/canopy-network/fastpath/lib"
)

// InitGenesis() seeds an empty store with the framework package and the genesis objects; a store that
// already holds objects is left untouched so restarts are safe
func (s *State) InitGenesis(genesis *lib.GenesisConfig) lib.ErrorI {
	empty, err := s.store.IsEmpty()
	if err != nil || !empty {
		return err
	}
	objects := append([]*lib.Object{execution.FrameworkPackage()}, genesis.Objects()...)
	if err = s.store.InsertGenesisObjects(objects); err != nil {
		return err
	}
	s.log.Infof("Inserted %d genesis objects", len(objects))
	return nil
}
