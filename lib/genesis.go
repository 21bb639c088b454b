package lib

import (
	"os"
)

// GenesisConfig is the committee of the first epoch and the objects that exist before any transaction
type GenesisConfig struct {
	Epoch       EpochID            `json:"epoch"`
	Authorities []GenesisAuthority `json:"authorities"`
	GasObjects  []GenesisGasObject `json:"gasObjects"`
}

// GenesisAuthority is a committee member and where to reach it
type GenesisAuthority struct {
	Name       AuthorityName `json:"name"`
	Weight     uint64        `json:"weight"`
	RPCAddress string        `json:"rpcAddress"`
}

// GenesisGasObject is a gas coin created at genesis
type GenesisGasObject struct {
	ID      ObjectID `json:"id"`
	Owner   Address  `json:"owner"`
	Balance uint64   `json:"balance"`
}

// Committee() builds the committee of the genesis epoch
func (g *GenesisConfig) Committee() (*Committee, ErrorI) {
	voting := make(map[AuthorityName]uint64, len(g.Authorities))
	for _, a := range g.Authorities {
		if _, dup := voting[a.Name]; dup {
			return nil, ErrDuplicateSigner(a.Name)
		}
		voting[a.Name] = a.Weight
	}
	return NewCommittee(g.Epoch, voting)
}

// Objects() returns the genesis gas coins
func (g *GenesisConfig) Objects() []*Object {
	out := make([]*Object, 0, len(g.GasObjects))
	for _, o := range g.GasObjects {
		out = append(out, NewGasCoin(o.ID, o.Owner, o.Balance))
	}
	return out
}

// RPCAddresses() maps each authority to its rpc address
func (g *GenesisConfig) RPCAddresses() map[AuthorityName]string {
	out := make(map[AuthorityName]string, len(g.Authorities))
	for _, a := range g.Authorities {
		out[a.Name] = a.RPCAddress
	}
	return out
}

// WriteToFile() saves the genesis as indented JSON
func (g *GenesisConfig) WriteToFile(path string) ErrorI {
	bz, err := MarshalJSONIndent(g)
	if err != nil {
		return err
	}
	if er := os.WriteFile(path, bz, os.ModePerm); er != nil {
		return ErrWriteFile(er)
	}
	return nil
}

// NewGenesisFromFile() reads a genesis JSON file
func NewGenesisFromFile(path string) (*GenesisConfig, ErrorI) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrReadFile(err)
	}
	g := new(GenesisConfig)
	if er := UnmarshalJSON(bz, g); er != nil {
		return nil, er
	}
	return g, nil
}
